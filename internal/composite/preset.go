// Package composite renders the outgoing video: it applies a named filter
// preset to each raw frame, composites an optional face-tracked overlay on
// top, and exposes the result as a mediadevices video source ready for the
// session transport. Compositing happens on the sending side only.
package composite

import (
	"errors"
	"image"
	"math"
	"sort"
)

// ErrUnknownPreset is returned by SetFilter for an unrecognised preset ID.
var ErrUnknownPreset = errors.New("unknown filter preset")

// frameOp mutates a frame in place. Presets are chains of frameOps.
type frameOp func(img *image.RGBA)

// presets mirrors the filter palette the UI offers. Amounts follow the
// CSS filter strings of the original palette.
var presets = map[string][]frameOp{
	"normal":  nil,
	"sepia":   {sepia(0.8), saturate(1.2)},
	"bw":      {grayscale()},
	"neon":    {saturate(2.5), contrast(1.3), hueRotate(30)},
	"vintage": {sepia(0.4), saturate(0.8), contrast(1.1), brightness(0.95)},
	"blur":    {boxBlur(2)},
}

// beauty adjustment chains, stackable on any preset.
var (
	beautySmooth   = []frameOp{boxBlur(1), contrast(1.05)}
	beautyBrighten = []frameOp{brightness(1.15), saturate(1.05)}
)

// Presets lists the available preset IDs, sorted.
func Presets() []string {
	out := make([]string, 0, len(presets))
	for id := range presets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// colorMatrix applies a 3x3 RGB matrix to every pixel. Alpha is untouched.
func colorMatrix(m [9]float64) frameOp {
	return func(img *image.RGBA) {
		pix := img.Pix
		for i := 0; i+3 < len(pix); i += 4 {
			r, g, b := float64(pix[i]), float64(pix[i+1]), float64(pix[i+2])
			pix[i] = clamp8(m[0]*r + m[1]*g + m[2]*b)
			pix[i+1] = clamp8(m[3]*r + m[4]*g + m[5]*b)
			pix[i+2] = clamp8(m[6]*r + m[7]*g + m[8]*b)
		}
	}
}

// grayscale converts to luminance.
func grayscale() frameOp {
	return colorMatrix([9]float64{
		0.2126, 0.7152, 0.0722,
		0.2126, 0.7152, 0.0722,
		0.2126, 0.7152, 0.0722,
	})
}

// sepia blends the identity matrix with the full sepia matrix by amount,
// the way the CSS sepia() amount works.
func sepia(amount float64) frameOp {
	lerp := func(full, id float64) float64 { return id + (full-id)*amount }
	return colorMatrix([9]float64{
		lerp(0.393, 1), lerp(0.769, 0), lerp(0.189, 0),
		lerp(0.349, 0), lerp(0.686, 1), lerp(0.168, 0),
		lerp(0.272, 0), lerp(0.534, 0), lerp(0.131, 1),
	})
}

// saturate lerps between luminance and the original color.
func saturate(s float64) frameOp {
	const lr, lg, lb = 0.2126, 0.7152, 0.0722
	return colorMatrix([9]float64{
		lr + (1-lr)*s, lg * (1 - s), lb * (1 - s),
		lr * (1 - s), lg + (1-lg)*s, lb * (1 - s),
		lr * (1 - s), lg * (1 - s), lb + (1-lb)*s,
	})
}

// hueRotate applies the CSS hue-rotate matrix for the given angle.
func hueRotate(deg float64) frameOp {
	rad := deg * math.Pi / 180
	c, s := math.Cos(rad), math.Sin(rad)
	return colorMatrix([9]float64{
		0.213 + c*0.787 - s*0.213, 0.715 - c*0.715 - s*0.715, 0.072 - c*0.072 + s*0.928,
		0.213 - c*0.213 + s*0.143, 0.715 + c*0.285 + s*0.140, 0.072 - c*0.072 - s*0.283,
		0.213 - c*0.213 - s*0.787, 0.715 - c*0.715 + s*0.715, 0.072 + c*0.928 + s*0.072,
	})
}

// brightness scales every channel.
func brightness(b float64) frameOp {
	return colorMatrix([9]float64{b, 0, 0, 0, b, 0, 0, 0, b})
}

// contrast pivots every channel around mid-gray.
func contrast(c float64) frameOp {
	return func(img *image.RGBA) {
		pix := img.Pix
		for i := 0; i+3 < len(pix); i += 4 {
			for j := 0; j < 3; j++ {
				pix[i+j] = clamp8((float64(pix[i+j])-128)*c + 128)
			}
		}
	}
}

// boxBlur is a separable box blur with the given radius in pixels. Cheap
// and close enough to the CSS gaussian at the small radii the presets use.
func boxBlur(radius int) frameOp {
	return func(img *image.RGBA) {
		if radius <= 0 {
			return
		}
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w == 0 || h == 0 {
			return
		}
		tmp := make([]uint8, len(img.Pix))
		n := float64(2*radius + 1)

		// Horizontal pass img → tmp.
		for y := 0; y < h; y++ {
			row := y * img.Stride
			for x := 0; x < w; x++ {
				var sr, sg, sb, sa float64
				for d := -radius; d <= radius; d++ {
					xx := x + d
					if xx < 0 {
						xx = 0
					} else if xx >= w {
						xx = w - 1
					}
					i := row + xx*4
					sr += float64(img.Pix[i])
					sg += float64(img.Pix[i+1])
					sb += float64(img.Pix[i+2])
					sa += float64(img.Pix[i+3])
				}
				i := row + x*4
				tmp[i] = clamp8(sr / n)
				tmp[i+1] = clamp8(sg / n)
				tmp[i+2] = clamp8(sb / n)
				tmp[i+3] = clamp8(sa / n)
			}
		}

		// Vertical pass tmp → img.
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var sr, sg, sb, sa float64
				for d := -radius; d <= radius; d++ {
					yy := y + d
					if yy < 0 {
						yy = 0
					} else if yy >= h {
						yy = h - 1
					}
					i := yy*img.Stride + x*4
					sr += float64(tmp[i])
					sg += float64(tmp[i+1])
					sb += float64(tmp[i+2])
					sa += float64(tmp[i+3])
				}
				i := y*img.Stride + x*4
				img.Pix[i] = clamp8(sr / n)
				img.Pix[i+1] = clamp8(sg / n)
				img.Pix[i+2] = clamp8(sb / n)
				img.Pix[i+3] = clamp8(sa / n)
			}
		}
	}
}
