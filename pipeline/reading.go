// Package pipeline implements the three worker.Worker cycle bodies that
// form the engine's Reader/Decoder/Renderer stages.
package pipeline

import (
	"io"
	"time"

	"github.com/zsiec/reel/errs"
	"github.com/zsiec/reel/logger"
	"github.com/zsiec/reel/metrics"
	"github.com/zsiec/reel/worker"
)

// ReadSource is the subset of container.Container the reading worker needs.
type ReadSource interface {
	Read() error
	ReadAborted() bool
	AtEndOfStream() bool
	IsLiveStream() bool
	IsNetworkStream() bool
	BufferLength() int
	HasEnoughPackets() bool
}

// BufferMaxDefault is the read-ahead cap for network (non-live) sources,
// matching spec.md's BUFFER_MAX default of 16 MiB.
const BufferMaxDefault = 16 << 20

// NewReadingWorker builds the ~10ms reader cycle. period should be the
// reading worker's configured cycle period; spec.md's open question about
// an unconfigured-period ReadingWorker variant is resolved by always
// requiring one explicitly (see DESIGN.md).
func NewReadingWorker(period time.Duration, pool *worker.Pool, src ReadSource, bufferMax int, log logger.Logger) *worker.Worker {
	if bufferMax <= 0 {
		bufferMax = BufferMaxDefault
	}
	cycle := func(w *worker.Worker) (bool, error) {
		if w.InterruptRequested() {
			return false, nil
		}
		if !shouldReadMorePackets(src, bufferMax) {
			return false, nil
		}
		err := src.Read()
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			if errs.IsCancelled(err) {
				return false, nil
			}
			kind := string(errs.KindOf(err))
			if kind == "" {
				kind = "unknown"
			}
			metrics.IncrementReadError(kind)
			return false, err
		}
		return true, nil
	}
	return worker.New("reader", period, pool, cycle, log, nil, nil)
}

func shouldReadMorePackets(src ReadSource, bufferMax int) bool {
	if src == nil || src.ReadAborted() || src.AtEndOfStream() {
		return false
	}
	if src.IsLiveStream() {
		return true
	}
	if src.IsNetworkStream() {
		return src.BufferLength() < bufferMax
	}
	return !src.HasEnoughPackets()
}
