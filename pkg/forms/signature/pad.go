// Package signature implements a freehand signature surface that emits its
// contents as a PNG data URL.
package signature

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"
)

const (
	DefaultWidth  = 600
	DefaultHeight = 200
	LineWidth     = 2.0
)

// Ink is the stroke colour.
var Ink = color.RGBA{R: 0x11, G: 0x18, B: 0x27, A: 0xff}

// Options configures a Pad. Zero values fall back to the defaults.
type Options struct {
	Width  int
	Height int
	// DisplayWidth is the rendered container width; pointer coordinates
	// arrive in display units and are scaled to the logical surface.
	DisplayWidth float64
	// OnChange receives the encoded surface when a stroke ends, and nil on Clear.
	OnChange func(dataURL *string)
}

type Point struct {
	X, Y float64
}

// Pad is safe for concurrent use. OnChange is always invoked without the
// pad's lock held.
type Pad struct {
	mu       sync.Mutex
	width    int
	height   int
	scale    float64
	img      *image.RGBA
	drawing  bool
	last     Point
	blank    bool
	onChange func(*string)
}

func NewPad(opts Options) *Pad {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	opts.Width = min(opts.Width, MaxWidth)
	opts.Height = min(opts.Height, MaxHeight)
	p := &Pad{
		width:    opts.Width,
		height:   opts.Height,
		scale:    1,
		img:      image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height)),
		blank:    true,
		onChange: opts.OnChange,
	}
	p.Resize(opts.DisplayWidth)
	return p
}

// Resize updates the container width used to scale pointer coordinates.
func (p *Pad) Resize(displayWidth float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if displayWidth > 0 {
		p.scale = float64(p.width) / displayWidth
	} else {
		p.scale = 1
	}
}

// OnChange replaces the change callback.
func (p *Pad) OnChange(fn func(*string)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// PointerDown begins a stroke when the contact point lies inside the surface.
func (p *Pad) PointerDown(x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pt := p.toLogical(x, y)
	if !p.inside(pt) {
		return
	}
	p.drawing = true
	p.last = pt
	p.blank = false
}

// PointerMove extends the active stroke to the new contact point.
func (p *Pad) PointerMove(x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.drawing {
		return
	}
	pt := p.toLogical(x, y)
	p.segment(p.last, pt)
	p.last = pt
}

// PointerUp ends the active stroke and emits the surface.
func (p *Pad) PointerUp() {
	p.end()
}

// PointerLeave behaves like PointerUp.
func (p *Pad) PointerLeave() {
	p.end()
}

func (p *Pad) end() {
	p.mu.Lock()
	if !p.drawing {
		p.mu.Unlock()
		return
	}
	p.drawing = false
	url, err := EncodeDataURL(p.img)
	fn := p.onChange
	p.mu.Unlock()

	if err != nil || fn == nil {
		return
	}
	fn(&url)
}

// Clear wipes the surface and emits nil.
func (p *Pad) Clear() {
	p.mu.Lock()
	p.reset()
	fn := p.onChange
	p.mu.Unlock()

	if fn != nil {
		fn(nil)
	}
}

// SetValue re-displays an externally supplied signature. A nil value blanks
// the surface. It never emits.
func (p *Pad) SetValue(dataURL *string) error {
	if dataURL == nil {
		p.mu.Lock()
		p.reset()
		p.mu.Unlock()
		return nil
	}

	src, err := DecodeDataURL(*dataURL)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	draw.Draw(p.img, p.img.Bounds(), src, src.Bounds().Min, draw.Over)
	p.blank = false
	return nil
}

// Value returns the encoded surface, or nil when nothing has been drawn or set.
func (p *Pad) Value() *string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.blank {
		return nil
	}
	url, err := EncodeDataURL(p.img)
	if err != nil {
		return nil
	}
	return &url
}

// Drawing reports whether a stroke is in progress.
func (p *Pad) Drawing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drawing
}

// Image returns a copy of the surface.
func (p *Pad) Image() image.Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := image.NewRGBA(p.img.Bounds())
	copy(out.Pix, p.img.Pix)
	return out
}

func (p *Pad) reset() {
	p.img = image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	p.drawing = false
	p.blank = true
}

func (p *Pad) toLogical(x, y float64) Point {
	return Point{X: x * p.scale, Y: y * p.scale}
}

func (p *Pad) inside(pt Point) bool {
	return pt.X >= 0 && pt.Y >= 0 && pt.X < float64(p.width) && pt.Y < float64(p.height)
}

// segment stamps discs along a to b, which yields round caps and joins.
func (p *Pad) segment(a, b Point) {
	dist := math.Hypot(b.X-a.X, b.Y-a.Y)
	steps := int(math.Ceil(dist / 0.5))
	if steps == 0 {
		p.dot(a)
		return
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		p.dot(Point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t})
	}
}

func (p *Pad) dot(c Point) {
	r := LineWidth / 2
	minX, maxX := int(math.Floor(c.X-r)), int(math.Ceil(c.X+r))
	minY, maxY := int(math.Floor(c.Y-r)), int(math.Ceil(c.Y+r))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := float64(x) + 0.5 - c.X
			dy := float64(y) + 0.5 - c.Y
			if dx*dx+dy*dy <= r*r && image.Pt(x, y).In(p.img.Rect) {
				p.img.SetRGBA(x, y, Ink)
			}
		}
	}
}
