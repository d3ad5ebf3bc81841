package composite

import (
	"image"
	"image/draw"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/video"

	"github.com/disquelabs/roulette/internal/track"
)

const (
	// DefaultFrameRate keeps the render loop comfortably above the 24 fps
	// floor real-time video needs.
	DefaultFrameRate = 30
	// MinFrameRate is the floor; configs below it are raised.
	MinFrameRate = 24

	// DefaultSmoothing is the eased transition applied to tracking updates.
	DefaultSmoothing = 120 * time.Millisecond
	// DefaultHold is how long the overlay keeps its last known position
	// after the detector reports no face, before easing to the fallback.
	DefaultHold = 500 * time.Millisecond
)

// DefaultFallback is the fixed screen position used when tracking is lost:
// centered horizontally, upper third — roughly where a face sits.
var DefaultFallback = track.Box{X: 0.35, Y: 0.15, W: 0.3, H: 0.3}

// Pipeline pulls raw frames, applies the active preset and overlay, and
// serves the result as a mediadevices video source. One pipeline per
// session, single consumer.
type Pipeline struct {
	id  string
	src video.Reader
	clk clock.Clock

	interval  time.Duration
	smoothing time.Duration
	hold      time.Duration
	fallback  track.Box

	// Tracking feed; nil provider means detection is unavailable and the
	// pipeline degrades to filter-only output.
	cancelTrack func()

	mu          sync.Mutex
	chain       []frameOp
	presetID    string
	smooth      bool
	brighten    bool
	asset       *Asset
	state       track.State
	haveState   bool
	noFaceSince time.Time
	sm          *smoother
	buf         *image.RGBA
	next        time.Time
	closed      bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFrameRate sets the render rate. Values below MinFrameRate are raised.
func WithFrameRate(fps int) Option {
	return func(p *Pipeline) {
		if fps < MinFrameRate {
			fps = MinFrameRate
		}
		p.interval = time.Second / time.Duration(fps)
	}
}

// WithSmoothing sets the overlay transition duration.
func WithSmoothing(d time.Duration) Option {
	return func(p *Pipeline) {
		if d >= 0 {
			p.smoothing = d
		}
	}
}

// WithHold sets the no-face hold window.
func WithHold(d time.Duration) Option {
	return func(p *Pipeline) {
		if d >= 0 {
			p.hold = d
		}
	}
}

// WithFallback sets the fixed fallback box.
func WithFallback(b track.Box) Option {
	return func(p *Pipeline) { p.fallback = b }
}

// WithClock injects a clock for tests.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clk = c }
}

// New creates a pipeline over a raw frame source. provider may be nil, in
// which case overlays are disabled and frames get filters only.
func New(src video.Reader, provider track.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		id:        "composite-" + uuid.NewString(),
		src:       src,
		clk:       clock.New(),
		interval:  time.Second / DefaultFrameRate,
		smoothing: DefaultSmoothing,
		hold:      DefaultHold,
		fallback:  DefaultFallback,
		presetID:  "normal",
	}
	for _, o := range opts {
		o(p)
	}
	p.sm = newSmoother(p.smoothing)

	if provider == nil {
		log.Printf("PIPE: face tracking unavailable — overlays disabled, filter-only output")
	} else {
		updates, cancel := provider.Subscribe()
		p.cancelTrack = cancel
		go p.trackLoop(updates)
	}
	return p
}

// trackLoop consumes detector updates as they arrive, at whatever cadence
// the detector manages. The render loop only ever reads the latest state.
func (p *Pipeline) trackLoop(updates <-chan track.State) {
	for st := range updates {
		p.mu.Lock()
		prev := p.state
		p.state = st
		p.haveState = true
		if st.Status == track.StatusNoFace && prev.Status != track.StatusNoFace {
			p.noFaceSince = p.clk.Now()
		}
		p.mu.Unlock()
	}
}

// SetFilter selects a named preset.
func (p *Pipeline) SetFilter(presetID string) error {
	if _, ok := presets[presetID]; !ok {
		return ErrUnknownPreset
	}
	p.mu.Lock()
	p.presetID = presetID
	p.rebuildChainLocked()
	p.mu.Unlock()
	log.Printf("PIPE: filter preset %q", presetID)
	return nil
}

// SetBeauty toggles the smooth/brighten adjustment passes.
func (p *Pipeline) SetBeauty(smooth, brighten bool) {
	p.mu.Lock()
	p.smooth = smooth
	p.brighten = brighten
	p.rebuildChainLocked()
	p.mu.Unlock()
}

// SetOverlay installs an overlay asset; nil removes it.
func (p *Pipeline) SetOverlay(a *Asset) {
	p.mu.Lock()
	p.asset = a
	p.mu.Unlock()
	if a != nil {
		log.Printf("PIPE: overlay %s (%s anchor)", a.Kind, a.Anchor)
	} else {
		log.Printf("PIPE: overlay removed")
	}
}

func (p *Pipeline) rebuildChainLocked() {
	chain := append([]frameOp(nil), presets[p.presetID]...)
	if p.smooth {
		chain = append(chain, beautySmooth...)
	}
	if p.brighten {
		chain = append(chain, beautyBrighten...)
	}
	p.chain = chain
}

// Read implements video.Reader: it paces to the configured frame rate,
// pulls a raw frame, and renders filters plus overlay onto a reused buffer.
func (p *Pipeline) Read() (image.Image, func(), error) {
	now := p.clk.Now()
	p.mu.Lock()
	next := p.next
	p.mu.Unlock()
	if !next.IsZero() {
		if d := next.Sub(now); d > 0 {
			p.clk.Sleep(d)
		}
	}

	raw, release, err := p.src.Read()
	if err != nil {
		return nil, nil, err
	}

	out := p.renderFrame(raw, p.clk.Now())
	if release != nil {
		release()
	}

	p.mu.Lock()
	p.next = p.clk.Now().Add(p.interval)
	p.mu.Unlock()

	return out, func() {}, nil
}

// renderFrame copies raw into the working buffer and applies the active
// chain and overlay for the given instant.
func (p *Pipeline) renderFrame(raw image.Image, now time.Time) *image.RGBA {
	p.mu.Lock()
	chain := p.chain
	asset := p.asset
	st := p.state
	haveState := p.haveState
	noFaceSince := p.noFaceSince
	trackingOn := p.cancelTrack != nil

	b := raw.Bounds()
	if p.buf == nil || p.buf.Bounds() != b {
		p.buf = image.NewRGBA(b)
	}
	buf := p.buf
	p.mu.Unlock()

	draw.Draw(buf, b, raw, b.Min, draw.Src)
	for _, op := range chain {
		op(buf)
	}

	if asset == nil || !trackingOn {
		return buf
	}
	if !haveState || st.Status == track.StatusLoading {
		return buf
	}

	switch st.Status {
	case track.StatusTracking:
		p.sm.setTarget(st.Box, now)
	case track.StatusNoFace:
		// Hold the last target briefly, then ease to the fallback.
		if now.Sub(noFaceSince) > p.hold {
			p.sm.setTarget(p.fallback, now)
		}
	case track.StatusFallback:
		p.sm.setTarget(p.fallback, now)
	}

	drawOverlay(buf, asset, p.sm.at(now))
	return buf
}

// ID implements mediadevices.VideoSource.
func (p *Pipeline) ID() string { return p.id }

// Close stops the tracking subscription. The source reader belongs to the
// caller and is not closed here.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel := p.cancelTrack
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// OutputTrack wraps the pipeline as a mediadevices track ready to hand to
// the session coordinator. Audio passes through untouched alongside it.
func (p *Pipeline) OutputTrack(selector *mediadevices.CodecSelector) mediadevices.Track {
	return mediadevices.NewVideoTrack(p, selector)
}
