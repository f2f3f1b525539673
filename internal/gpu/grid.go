package gpu

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/draw"

	"github.com/gogpu/shaderprobe"
)

// floatTolerance is the per-channel tolerance when comparing float texels.
const floatTolerance = 1e-6

// Grid is a read back render target, row-major. Exactly one of U8 and F32
// is populated, depending on Format.
type Grid struct {
	Width, Height int
	Format        shaderprobe.PixelFormat
	U8            [][4]uint8
	F32           [][4]float32
}

// decodeGrid interprets staging buffer bytes. Rows are stride bytes apart;
// the padding after each row is dropped.
func decodeGrid(raw []byte, width, height, stride int, pf shaderprobe.PixelFormat) (*Grid, error) {
	texel := pf.TexelBytes()
	if stride < width*texel {
		return nil, fmt.Errorf("gpu: row stride %d shorter than %d texels", stride, width)
	}
	if len(raw) < stride*(height-1)+width*texel {
		return nil, fmt.Errorf("gpu: readback of %d bytes too short for %dx%d %s", len(raw), width, height, pf)
	}

	g := &Grid{Width: width, Height: height, Format: pf}
	switch pf {
	case shaderprobe.RGBA8Unorm:
		g.U8 = make([][4]uint8, width*height)
	case shaderprobe.RGBA32Float:
		g.F32 = make([][4]float32, width*height)
	default:
		return nil, fmt.Errorf("gpu: unsupported pixel format %v", pf)
	}

	for y := 0; y < height; y++ {
		row := raw[y*stride:]
		for x := 0; x < width; x++ {
			px := row[x*texel : (x+1)*texel]
			i := y*width + x
			if g.U8 != nil {
				copy(g.U8[i][:], px)
				continue
			}
			for c := 0; c < 4; c++ {
				g.F32[i][c] = math.Float32frombits(binary.LittleEndian.Uint32(px[4*c:]))
			}
		}
	}
	return g, nil
}

// At returns the texel at (x, y) in the format's native units: 0..255 for
// RGBA8Unorm, floats for RGBA32Float.
func (g *Grid) At(x, y int) [4]float64 {
	i := y*g.Width + x
	var out [4]float64
	for c := 0; c < 4; c++ {
		if g.U8 != nil {
			out[c] = float64(g.U8[i][c])
		} else {
			out[c] = float64(g.F32[i][c])
		}
	}
	return out
}

// String prints one line per row, each texel as a 4-tuple.
func (g *Grid) String() string {
	var b strings.Builder
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			if x > 0 {
				b.WriteByte(' ')
			}
			t := g.At(x, y)
			b.WriteByte('(')
			for c, v := range t {
				if c > 0 {
					b.WriteString(", ")
				}
				if g.U8 != nil {
					b.WriteString(strconv.Itoa(int(v)))
				} else {
					b.WriteString(strconv.FormatFloat(v, 'g', -1, 32))
				}
			}
			b.WriteByte(')')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Mismatches counts texels that differ from want, given in native units.
func (g *Grid) Mismatches(want [4]float64) int {
	n := 0
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			if !g.texelEqual(g.At(x, y), want) {
				n++
			}
		}
	}
	return n
}

// Equal reports whether both grids have the same size, format and texels.
func (g *Grid) Equal(o *Grid) bool {
	if o == nil || g.Width != o.Width || g.Height != o.Height || g.Format != o.Format {
		return false
	}
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			if !g.texelEqual(g.At(x, y), o.At(x, y)) {
				return false
			}
		}
	}
	return true
}

func (g *Grid) texelEqual(a, b [4]float64) bool {
	for c := 0; c < 4; c++ {
		if g.U8 != nil {
			if a[c] != b[c] {
				return false
			}
		} else if math.Abs(a[c]-b[c]) > floatTolerance {
			return false
		}
	}
	return true
}

// Image converts the grid to an 8-bit image. Float channels are clamped to
// [0, 1].
func (g *Grid) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			var c color.NRGBA
			if g.U8 != nil {
				t := g.U8[y*g.Width+x]
				c = color.NRGBA{R: t[0], G: t[1], B: t[2], A: t[3]}
			} else {
				t := g.F32[y*g.Width+x]
				c = color.NRGBA{R: unorm8(t[0]), G: unorm8(t[1]), B: unorm8(t[2]), A: unorm8(t[3])}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// WritePNG encodes the grid as PNG, upscaled by scale with nearest-neighbour
// sampling so individual texels stay visible.
func (g *Grid) WritePNG(w io.Writer, scale int) error {
	if scale < 1 {
		scale = 1
	}
	src := g.Image()
	dst := image.NewNRGBA(image.Rect(0, 0, g.Width*scale, g.Height*scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	if err := png.Encode(w, dst); err != nil {
		return fmt.Errorf("gpu: encode png: %w", err)
	}
	return nil
}

func unorm8(v float32) uint8 {
	if v <= 0 || math.IsNaN(float64(v)) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
