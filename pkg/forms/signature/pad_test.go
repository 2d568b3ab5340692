package signature

import (
	"image"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []*string
}

func (r *recorder) record(v *string) {
	r.calls = append(r.calls, v)
}

func inked(img image.Image) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0 {
				n++
			}
		}
	}
	return n
}

func TestPad_SingleStrokeEmitsOnce(t *testing.T) {
	rec := &recorder{}
	p := NewPad(Options{OnChange: rec.record})

	p.PointerDown(10, 10)
	p.PointerMove(50, 40)
	p.PointerMove(90, 20)
	assert.Empty(t, rec.calls, "nothing is emitted while drawing")

	p.PointerUp()
	require.Len(t, rec.calls, 1)
	require.NotNil(t, rec.calls[0])
	assert.True(t, strings.HasPrefix(*rec.calls[0], PNGDataURLPrefix))

	img, err := DecodeDataURL(*rec.calls[0])
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, DefaultWidth, DefaultHeight), img.Bounds())
	assert.Greater(t, inked(img), 0)
}

func TestPad_ClearEmitsNil(t *testing.T) {
	rec := &recorder{}
	p := NewPad(Options{OnChange: rec.record})

	p.PointerDown(5, 5)
	p.PointerMove(20, 20)
	p.PointerUp()
	p.Clear()

	require.Len(t, rec.calls, 2)
	assert.NotNil(t, rec.calls[0])
	assert.Nil(t, rec.calls[1])
	assert.Nil(t, p.Value())
	assert.Equal(t, 0, inked(p.Image()))
}

func TestPad_NoDrawingLeavesValueNil(t *testing.T) {
	rec := &recorder{}
	p := NewPad(Options{OnChange: rec.record})

	p.PointerMove(10, 10)
	p.PointerUp()
	p.PointerLeave()

	assert.Empty(t, rec.calls)
	assert.Nil(t, p.Value())
}

func TestPad_PointerLeaveEndsStroke(t *testing.T) {
	rec := &recorder{}
	p := NewPad(Options{OnChange: rec.record})

	p.PointerDown(10, 10)
	p.PointerMove(30, 30)
	p.PointerLeave()
	p.PointerUp()

	assert.Len(t, rec.calls, 1)
	assert.False(t, p.Drawing())
}

func TestPad_TapWithoutMoveStillEmits(t *testing.T) {
	rec := &recorder{}
	p := NewPad(Options{OnChange: rec.record})

	p.PointerDown(10, 10)
	p.PointerUp()

	require.Len(t, rec.calls, 1)
	assert.NotNil(t, rec.calls[0])
}

func TestPad_DownOutsideSurfaceIgnored(t *testing.T) {
	rec := &recorder{}
	p := NewPad(Options{OnChange: rec.record})

	p.PointerDown(-1, 10)
	p.PointerMove(20, 20)
	p.PointerUp()

	assert.Empty(t, rec.calls)
}

func TestPad_ScalesDisplayCoordinates(t *testing.T) {
	p := NewPad(Options{DisplayWidth: 300})

	p.PointerDown(10, 10)
	p.PointerMove(20, 10)
	p.PointerUp()

	img := p.Image()
	_, _, _, a := img.At(40, 20).RGBA()
	assert.NotZero(t, a, "display x=20 maps to logical x=40")
	_, _, _, a = img.At(100, 20).RGBA()
	assert.Zero(t, a)
}

func TestPad_SetValueRedisplays(t *testing.T) {
	src := NewPad(Options{})
	src.PointerDown(10, 10)
	src.PointerMove(100, 100)
	src.PointerUp()
	value := src.Value()
	require.NotNil(t, value)

	rec := &recorder{}
	p := NewPad(Options{OnChange: rec.record})
	require.NoError(t, p.SetValue(value))
	assert.Empty(t, rec.calls)
	assert.Equal(t, inked(src.Image()), inked(p.Image()))

	require.NoError(t, p.SetValue(nil))
	assert.Nil(t, p.Value())
}

func TestDecodeDataURL_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"not a url",
		"data:text/plain;base64,aGVsbG8=",
		"data:image/png;base64,!!!",
		"data:image/png;base64,aGVsbG8=",
	} {
		_, err := DecodeDataURL(in)
		assert.ErrorIs(t, err, ErrInvalidDataURL, in)
	}
}

func TestDecodeDataURL_BoundsDimensions(t *testing.T) {
	tests := []struct {
		name string
		rect image.Rectangle
		err  error
	}{
		{"surface", image.Rect(0, 0, DefaultWidth, DefaultHeight), nil},
		{"max", image.Rect(0, 0, MaxWidth, MaxHeight), nil},
		{"too wide", image.Rect(0, 0, MaxWidth+1, 1), ErrImageTooLarge},
		{"too tall", image.Rect(0, 0, 1, MaxHeight+1), ErrImageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := EncodeDataURL(image.NewGray(tt.rect))
			require.NoError(t, err)

			img, err := DecodeDataURL(url)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.Nil(t, img)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rect, img.Bounds())
		})
	}
}

func TestNewPad_ClampsSurface(t *testing.T) {
	p := NewPad(Options{Width: 5000, Height: 5000})
	assert.Equal(t, image.Rect(0, 0, MaxWidth, MaxHeight), p.Image().Bounds())
}
