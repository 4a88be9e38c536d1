package sntray

import (
	"fmt"
	"image"

	"github.com/godbus/dbus/v5"
)

// Pixmap is one resolution of an icon transferred as raw pixels.
type Pixmap struct {
	Width  int32
	Height int32

	// ARGB32 pixels in network byte order, row by row.
	Bytes []byte
}

// Area returns the number of pixels in the pixmap.
func (p *Pixmap) Area() int64 {
	return int64(p.Width) * int64(p.Height)
}

// valid reports whether dimensions are positive and Bytes holds enough data
// for them.
func (p *Pixmap) valid() bool {
	return p.Width > 0 && p.Height > 0 && int64(len(p.Bytes)) >= 4*p.Area()
}

// Image converts the pixmap to a non-premultiplied RGBA image.
func (p *Pixmap) Image() (*image.NRGBA, error) {
	if !p.valid() {
		return nil, fmt.Errorf("pixmap: invalid %dx%d pixmap with %d bytes", p.Width, p.Height, len(p.Bytes))
	}

	img := image.NewNRGBA(image.Rect(0, 0, int(p.Width), int(p.Height)))

	for i := 0; i < len(img.Pix); i += 4 {
		a, r, g, b := p.Bytes[i], p.Bytes[i+1], p.Bytes[i+2], p.Bytes[i+3]
		img.Pix[i] = r
		img.Pix[i+1] = g
		img.Pix[i+2] = b
		img.Pix[i+3] = a
	}

	return img, nil
}

// PixmapSet is the same icon at multiple resolutions.
type PixmapSet []*Pixmap

// NewPixmapSetFromDBusProperty decodes a value of D-Bus type a(iiay).
//
// Format of each entry is as follows
//
//	[<width>, <height>, <bytes>]
//
// Malformed entries are skipped. An error is returned only when the value is
// not an array at all.
func NewPixmapSetFromDBusProperty(value any) (PixmapSet, error) {
	if v, ok := value.(dbus.Variant); ok {
		value = v.Value()
	}

	var entries []any

	switch v := value.(type) {
	case [][]any:
		entries = make([]any, len(v))
		for i := range v {
			entries[i] = v[i]
		}
	case []any:
		entries = v
	default:
		return nil, fmt.Errorf("pixmap: invalid property format %T", value)
	}

	set := make(PixmapSet, 0, len(entries))

	for _, entry := range entries {
		pixmap, err := newPixmapFromDBusStruct(entry)
		if err != nil {
			continue
		}

		set = append(set, pixmap)
	}

	return set, nil
}

func newPixmapFromDBusStruct(entry any) (*Pixmap, error) {
	data, ok := entry.([]any)
	if !ok || len(data) != 3 {
		return nil, fmt.Errorf("invalid pixmap format: expected a slice of 3 elements")
	}

	width, ok := data[0].(int32)
	if !ok {
		return nil, fmt.Errorf("invalid width type: expected int32")
	}

	height, ok := data[1].(int32)
	if !ok {
		return nil, fmt.Errorf("invalid height type: expected int32")
	}

	bytes, ok := data[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid bytes format: expected []byte")
	}

	return &Pixmap{
		Width:  width,
		Height: height,
		Bytes:  bytes,
	}, nil
}

// Largest returns the valid entry with the largest area. On equal areas the
// earlier entry is kept. Nil is returned when no entry is valid.
func (s PixmapSet) Largest() *Pixmap {
	var best *Pixmap

	for _, p := range s {
		if p == nil || !p.valid() {
			continue
		}

		if best == nil || p.Area() > best.Area() {
			best = p
		}
	}

	return best
}
