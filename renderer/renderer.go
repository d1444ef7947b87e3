// Package renderer defines the host-implemented Renderer contract and a
// base helper that gives concrete renderers the busy-skip and GUI-thread
// handoff behavior spec'd for render().
package renderer

import (
	"sync/atomic"

	"github.com/zsiec/reel/block"
	"github.com/zsiec/reel/logger"
)

// HostView is a non-owning handle into the host's UI surface, injected
// into a Renderer at construction. Renderers never reach back into the
// engine; they only ever touch this handle and their own present logic.
type HostView interface {
	// Dispatch schedules fn to run on the host's presentation thread.
	// Implementations must not block the caller.
	Dispatch(fn func())
}

// Renderer is implemented by the host, one instance per MediaType.
type Renderer interface {
	Play()
	Pause()
	Stop()
	Seek()
	Close()
	WaitForReady()

	// Render delivers a block for presentation at wall. Must return
	// immediately; any GUI work is the renderer's own responsibility to
	// defer via its HostView. Returns false when the present was skipped
	// because a prior present was still in flight (spec property 5).
	Render(b *block.Block, wall block.Timestamp) bool
	// Update is called once per rendering cycle regardless of whether
	// Render was also called this cycle.
	Update(wall block.Timestamp)
}

// Base gives a concrete Renderer the busy-guard/skip-on-busy behavior from
// spec property 5: if a Render call arrives while a prior present is still
// in flight on the host view thread, it is skipped rather than queued.
type Base struct {
	Type MediaType
	Host HostView
	log  logger.Logger

	busy atomic.Bool
}

// MediaType mirrors block.MediaType to avoid forcing every renderer
// implementation to import block just to name its own type.
type MediaType = block.MediaType

// NewBase constructs the shared renderer scaffolding.
func NewBase(t MediaType, host HostView, log logger.Logger) *Base {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Base{Type: t, Host: host, log: log.WithField("renderer", t.String())}
}

// IsBusy reports whether a present is currently in flight.
func (b *Base) IsBusy() bool { return b.busy.Load() }

// Dispatch attempts to hand present off to the host view thread. If the
// renderer is already busy, present is skipped (logged at debug) and
// Dispatch returns false; no partial state is left behind. On success,
// present runs inside a recover-guarded wrapper so a panicking present
// cannot stall the pipeline — the busy flag is released regardless.
func (b *Base) Dispatch(present func()) bool {
	if !b.busy.CompareAndSwap(false, true) {
		b.log.Debug("render skipped: renderer busy")
		return false
	}
	b.Host.Dispatch(func() {
		defer b.busy.Store(false)
		defer func() {
			if r := recover(); r != nil {
				b.log.WithField("panic", r).Error("renderer present panicked")
			}
		}()
		present()
	})
	return true
}
