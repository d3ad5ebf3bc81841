package composite

import (
	"image"
	"image/color"
	"image/draw"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/disquelabs/roulette/internal/track"
)

// Anchor selects where on the face the overlay sits.
type Anchor string

const (
	// AnchorCenter centers the overlay on the face box.
	AnchorCenter Anchor = "center"
	// AnchorEyes places the overlay over the upper third of the box
	// (glasses, visors).
	AnchorEyes Anchor = "eyes"
)

// AssetKind distinguishes glyph-derived overlays from plain images.
type AssetKind string

const (
	KindGlyph AssetKind = "glyph"
	KindImage AssetKind = "image"
)

// overlayScale matches the original compositor: the overlay is drawn 1.5x
// the larger face-box dimension so it covers the whole face.
const overlayScale = 1.5

// Asset is a user-selected overlay. Image must be set; for glyph assets the
// UI rasterizes the glyph (font rendering lives with the display layer) and
// Glyph records what it drew so it can re-rasterize on DPI changes.
type Asset struct {
	Kind    AssetKind
	Glyph   string
	Image   image.Image
	Anchor  Anchor
	Opacity float64 // 0 → treated as 1
}

// smoother eases the rendered face box toward its target so discrete
// tracking updates do not jitter the overlay. A new target restarts a short
// eased transition from the currently rendered position.
type smoother struct {
	duration time.Duration

	from    track.Box
	target  track.Box
	started time.Time
	init    bool
}

func newSmoother(duration time.Duration) *smoother {
	return &smoother{duration: duration}
}

// setTarget aims the smoother at box. The first target snaps immediately.
func (s *smoother) setTarget(box track.Box, now time.Time) {
	if !s.init {
		s.from = box
		s.target = box
		s.started = now
		s.init = true
		return
	}
	if box == s.target {
		return
	}
	s.from = s.at(now)
	s.target = box
	s.started = now
}

// at returns the eased box for the given instant.
func (s *smoother) at(now time.Time) track.Box {
	if !s.init {
		return s.target
	}
	t := 1.0
	if s.duration > 0 {
		t = float64(now.Sub(s.started)) / float64(s.duration)
	}
	if t >= 1 {
		return s.target
	}
	if t < 0 {
		t = 0
	}
	// ease-out quadratic, like the CSS transition the original leaned on
	e := 1 - (1-t)*(1-t)
	lerp := func(a, b float64) float64 { return a + (b-a)*e }
	return track.Box{
		X: lerp(s.from.X, s.target.X),
		Y: lerp(s.from.Y, s.target.Y),
		W: lerp(s.from.W, s.target.W),
		H: lerp(s.from.H, s.target.H),
	}
}

// drawOverlay composites the asset onto dst at the given face box.
func drawOverlay(dst *image.RGBA, a *Asset, box track.Box) {
	if a == nil || a.Image == nil {
		return
	}
	fw := float64(dst.Bounds().Dx())
	fh := float64(dst.Bounds().Dy())
	size := box.W * fw
	if v := box.H * fh; v > size {
		size = v
	}
	size *= overlayScale
	if size < 1 {
		return
	}

	// Scale preserving the asset's aspect ratio; the larger dimension
	// becomes size.
	sb := a.Image.Bounds()
	sw, sh := float64(sb.Dx()), float64(sb.Dy())
	if sw == 0 || sh == 0 {
		return
	}
	var dw, dh float64
	if sw >= sh {
		dw, dh = size, size*sh/sw
	} else {
		dw, dh = size*sw/sh, size
	}

	cx, cy := box.Center()
	px := cx * fw
	py := cy * fh
	if a.Anchor == AnchorEyes {
		py = (box.Y + box.H/3) * fh
	}

	rect := image.Rect(
		int(px-dw/2), int(py-dh/2),
		int(px+dw/2), int(py+dh/2),
	)

	opacity := a.Opacity
	if opacity <= 0 || opacity > 1 {
		opacity = 1
	}
	if opacity == 1 {
		xdraw.ApproxBiLinear.Scale(dst, rect, a.Image, sb, draw.Over, nil)
		return
	}

	scaled := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), a.Image, sb, draw.Src, nil)
	mask := image.NewUniform(color.Alpha{A: uint8(opacity * 255)})
	draw.DrawMask(dst, rect, scaled, image.Point{}, mask, image.Point{}, draw.Over)
}
