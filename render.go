package sntray

import (
	"fmt"
	"image"
	"image/color"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
)

// IconResolver maps a Freedesktop icon name to a file path. themePath is the
// item's IconThemePath, searched before the system theme when not empty.
type IconResolver interface {
	Lookup(name string, size int, themePath string) (string, error)
}

// IconLoader decodes the image stored at path.
type IconLoader interface {
	Load(path string, size int) (image.Image, error)
}

// Surface is the window the tray is drawn on.
type Surface interface {
	// Resize sets the size of the window and its backing drawing surface.
	Resize(width, height int) error

	// Draw replaces the window content with img.
	Draw(img image.Image) error
}

// Renderer draws items side by side, one square slot of iconSize pixels per
// item.
type Renderer struct {
	surface    Surface
	loader     IconLoader
	iconSize   int
	width      int
	background color.Color
	log        zerolog.Logger
	last       *image.RGBA
}

// NewRenderer returns a [Renderer]. The surface is assumed to be one slot
// wide initially.
func NewRenderer(surface Surface, loader IconLoader, iconSize int, background color.Color, log zerolog.Logger) *Renderer {
	return &Renderer{
		surface:    surface,
		loader:     loader,
		iconSize:   iconSize,
		width:      iconSize,
		background: background,
		log:        log,
	}
}

// Width returns the current surface width.
func (r *Renderer) Width() int {
	return r.width
}

// RequiredWidth returns the surface width needed for count items.
func (r *Renderer) RequiredWidth(count int) int {
	return count * r.iconSize
}

// Render resizes the surface if the number of items changed and repaints it.
func (r *Renderer) Render(items []*Item) error {
	width := r.RequiredWidth(len(items))

	if width != r.width {
		r.log.Debug().Int("width", width).Msg("resizing tray")

		if err := r.surface.Resize(width, r.iconSize); err != nil {
			return fmt.Errorf("render: resize to %d: %w", width, err)
		}

		r.width = width
	}

	r.last = r.Compose(items)

	if err := r.surface.Draw(r.last); err != nil {
		return fmt.Errorf("render: %w", err)
	}

	return nil
}

// Repaint draws the last composed image again.
func (r *Renderer) Repaint() error {
	if r.last == nil {
		return nil
	}

	return r.surface.Draw(r.last)
}

// Compose draws the background and the icon of every item left to right.
// Items whose icon cannot be loaded leave their slot empty.
func (r *Renderer) Compose(items []*Item) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.RequiredWidth(len(items)), r.iconSize))
	draw.Draw(img, img.Bounds(), image.NewUniform(r.background), image.Point{}, draw.Src)

	for i, item := range items {
		icon, err := r.icon(item)
		if err != nil {
			r.log.Debug().Err(err).Str("service", item.Service).Msg("blank icon slot")
			continue
		}

		slot := image.Rect(i*r.iconSize, 0, (i+1)*r.iconSize, r.iconSize)
		draw.CatmullRom.Scale(img, slot, icon, icon.Bounds(), draw.Over, nil)
	}

	return img
}

// icon picks the image for item: the attention icon while the item needs
// attention, else the named icon, else the pixmap.
func (r *Renderer) icon(item *Item) (image.Image, error) {
	if item.Status == ItemStatusNeedsAttention && item.AttentionIconPath != "" && r.loader != nil {
		if img, err := r.loader.Load(item.AttentionIconPath, r.iconSize); err == nil {
			return img, nil
		}
	}

	if item.IconPath != "" && r.loader != nil {
		img, err := r.loader.Load(item.IconPath, r.iconSize)
		if err == nil {
			return img, nil
		}

		if item.IconPixmap == nil {
			return nil, err
		}
	}

	if item.IconPixmap != nil {
		return item.IconPixmap.Image()
	}

	return nil, fmt.Errorf("item %s has no icon", item.Service)
}
