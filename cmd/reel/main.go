// Command reel is a terminal host demo: it wires an engine.Engine to a
// bubbletea UI that drives play/pause/seek and renders buffer occupancy
// and playback position the way a real embedding host's renderers would,
// minus the actual pixels.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reel/block"
	"github.com/zsiec/reel/codec"
	"github.com/zsiec/reel/config"
	"github.com/zsiec/reel/diag"
	"github.com/zsiec/reel/engine"
	"github.com/zsiec/reel/live"
	"github.com/zsiec/reel/logger"
	"github.com/zsiec/reel/renderer"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	uri := flag.String("uri", "sim://demo", "media URI to open; sim:// drives the built-in simulated demuxer, live:// reads from the SRT ingest registry")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	rootLog := logger.With(log, "cmd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		rootLog.WithField("signal", sig.String()).Info("received signal, shutting down")
		cancel()
	}()

	eng := engine.New(cfg, rootLog)
	liveMgr := live.NewManager(cfg.Live, rootLog)
	diagSrv := diag.New(cfg.Diagnostics, cfg.Metrics, eng, rootLog)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return liveMgr.Start(ctx) })
	g.Go(func() error { return diagSrv.Start(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		return liveMgr.Close()
	})

	m := newModel(eng, liveMgr, *uri, rootLog)
	prog := tea.NewProgram(m)

	g.Go(func() error {
		_, err := prog.Run()
		cancel()
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		prog.Quit()
		return nil
	})

	if err := g.Wait(); err != nil {
		rootLog.WithError(err).Error("reel exited with error")
		os.Exit(1)
	}
}

// tickMsg drives the UI's periodic position/buffer refresh independent of
// the engine's own rendering cadence.
type tickMsg time.Time

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type statusLine struct {
	text string
	err  bool
}

// model is the bubbletea program driving the engine from keyboard input.
// It never touches the engine's renderer contract directly; play/pause/
// seek all go through the engine's public session API, the same surface
// a GUI host would call from its own event loop.
type model struct {
	eng     *engine.Engine
	liveMgr *live.Manager
	uri     string
	log     logger.Logger

	opened  bool
	playing bool
	status  statusLine
	width   int
}

func newModel(eng *engine.Engine, liveMgr *live.Manager, uri string, log logger.Logger) *model {
	return &model{eng: eng, liveMgr: liveMgr, uri: uri, log: log, width: 80}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(tickEvery(200*time.Millisecond), m.openCmd())
}

func (m *model) openCmd() tea.Cmd {
	return func() tea.Msg {
		opts, err := m.sessionOptions()
		if err != nil {
			return statusLine{text: err.Error(), err: true}
		}
		if err := m.eng.Open(opts); err != nil {
			return statusLine{text: fmt.Sprintf("open failed: %v", err), err: true}
		}
		return openedMsg{}
	}
}

type openedMsg struct{}

// sessionOptions builds SessionOptions for m.uri. A sim:// URI drives the
// codec.Simulated* stubs so the demo runs with no real media; a live://
// URI is handed to the live.Manager's OpenFunc, which blocks for that
// stream key's PMT to arrive over SRT.
func (m *model) sessionOptions() (engine.SessionOptions, error) {
	if strings.HasPrefix(m.uri, "live://") {
		return engine.SessionOptions{
			OpenDemuxer: m.liveMgr.OpenFunc(),
			URI:         m.uri,
			Media:       config.DefaultMediaOptions(),
			NewDecoder:  simulatedDecoderFactory,
			NewResampler: func() codec.Resampler { return &codec.SimulatedResampler{} },
			Renderers:   m.renderers(),
		}, nil
	}

	streams := []codec.StreamInfo{
		{Index: 0, Type: block.Video, CodecName: "h264", Width: 1920, Height: 1080},
		{Index: 1, Type: block.Audio, CodecName: "aac", SampleRate: 48000, Channels: 2},
	}
	demuxer := codec.NewSimulatedDemuxer(streams, 40*time.Millisecond, 1<<20)

	return engine.SessionOptions{
		OpenDemuxer: func(string) (codec.Demuxer, error) { return demuxer, nil },
		URI:         m.uri,
		Media:       config.DefaultMediaOptions(),
		NewDecoder:  simulatedDecoderFactory,
		NewResampler: func() codec.Resampler { return &codec.SimulatedResampler{} },
		Renderers:   m.renderers(),
	}, nil
}

func simulatedDecoderFactory(si codec.StreamInfo) (codec.Decoder, error) {
	return codec.NewSimulatedDecoder(si, 1*time.Second/30), nil
}

func (m *model) renderers() map[block.MediaType]renderer.Renderer {
	host := ttyHostView{}
	return map[block.MediaType]renderer.Renderer{
		block.Video:    newTextRenderer(block.Video, host, m.log),
		block.Audio:    newTextRenderer(block.Audio, host, m.log),
		block.Subtitle: newTextRenderer(block.Subtitle, host, m.log),
	}
}

// ttyHostView runs every present synchronously: the demo has nothing but
// text to draw, so there is no separate presentation thread to hop to.
type ttyHostView struct{}

func (ttyHostView) Dispatch(fn func()) { fn() }

// textRenderer stands in for a GUI host's real Renderer: Render/Update
// just record the last block seen so the TUI's status line can show that
// frames are actually flowing, without drawing any pixels.
type textRenderer struct {
	*renderer.Base

	mu       sync.Mutex
	lastSeen block.Timestamp
	count    int64
}

func newTextRenderer(t block.MediaType, host renderer.HostView, log logger.Logger) *textRenderer {
	return &textRenderer{Base: renderer.NewBase(t, host, log)}
}

func (r *textRenderer) Play()         {}
func (r *textRenderer) Pause()        {}
func (r *textRenderer) Stop()         {}
func (r *textRenderer) Seek()         {}
func (r *textRenderer) Close()        {}
func (r *textRenderer) WaitForReady() {}

func (r *textRenderer) Render(b *block.Block, wall block.Timestamp) bool {
	return r.Dispatch(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.lastSeen = wall
		r.count++
	})
}

func (r *textRenderer) Update(wall block.Timestamp) {}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			return m, m.togglePlay()
		case "left":
			return m, m.seekRelative(-5 * time.Second)
		case "right":
			return m, m.seekRelative(5 * time.Second)
		}

	case openedMsg:
		m.opened = true
		m.status = statusLine{text: "opened " + m.uri}
		return m, m.togglePlay()

	case statusLine:
		m.status = msg
		return m, nil

	case tickMsg:
		return m, tickEvery(200 * time.Millisecond)
	}

	return m, nil
}

func (m *model) togglePlay() tea.Cmd {
	return func() tea.Msg {
		if !m.opened {
			return statusLine{text: "not yet opened", err: true}
		}
		var err error
		if m.playing {
			err = m.eng.Pause()
		} else {
			err = m.eng.Play()
		}
		if err != nil {
			return statusLine{text: err.Error(), err: true}
		}
		m.playing = !m.playing
		return statusLine{text: playStateLabel(m.playing)}
	}
}

func playStateLabel(playing bool) string {
	if playing {
		return "playing"
	}
	return "paused"
}

func (m *model) seekRelative(d time.Duration) tea.Cmd {
	return func() tea.Msg {
		if !m.opened {
			return statusLine{text: "not yet opened", err: true}
		}
		target := m.eng.Position().Add(d)
		if err := m.eng.Seek(target); err != nil {
			return statusLine{text: err.Error(), err: true}
		}
		return statusLine{text: fmt.Sprintf("seeked to %s", target.Duration())}
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8B5CF6"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("reel"))
	b.WriteString("  ")
	b.WriteString(labelStyle.Render(m.uri))
	b.WriteString("\n\n")

	info := m.eng.DebugEngine()
	fmt.Fprintf(&b, "%s %s    %s %s\n",
		labelStyle.Render("state"), playStateLabel(info.Running),
		labelStyle.Render("position"), time.Duration(info.PositionMS)*time.Millisecond,
	)

	b.WriteString("\n")
	for _, buf := range m.eng.DebugBuffers() {
		fmt.Fprintf(&b, "%-10s %6.1f%%  range=%s\n", buf.Type, buf.CapacityPercent, time.Duration(buf.RangeDurationMS)*time.Millisecond)
	}

	b.WriteString("\n")
	style := okStyle
	if m.status.err {
		style = errStyle
	}
	b.WriteString(style.Render(m.status.text))

	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("space: play/pause   ←/→: seek ±5s   q: quit"))
	return b.String()
}
