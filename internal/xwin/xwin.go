// Package xwin provides the X11 dock window the tray is drawn on.
package xwin

import (
	"fmt"
	"image"

	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgbutil"
	"github.com/jezek/xgbutil/ewmh"
	"github.com/jezek/xgbutil/icccm"
	"github.com/jezek/xgbutil/xevent"
	"github.com/jezek/xgbutil/xgraphics"
	"github.com/jezek/xgbutil/xwindow"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"github.com/shelepuginivan/sntray"
)

// Depth of the visual that carries an alpha channel.
const argbDepth = 32

// Options configure a [Window].
type Options struct {
	// RandR output name, e.g. "HDMI-1". The primary output is used when empty
	// or not connected.
	Output string

	// Height of the window and width of one icon slot.
	IconSize int

	Title string

	Logger zerolog.Logger
}

// Window is an override-redirect dock window reserving space at the top of
// the selected output. It implements [sntray.Surface].
//
// The window uses a 32-bit visual when the screen has one, so that alpha of
// the drawn image reaches the compositor. Otherwise it is created with the
// root visual and drawn opaque.
type Window struct {
	X        *xgbutil.XUtil
	win      *xwindow.Window
	monitor  image.Rectangle
	height   int
	width    int
	mapped   bool
	log      zerolog.Logger
	quitting bool

	// Set for 32-bit windows.
	depth    byte
	colormap xproto.Colormap
	gc       xproto.Gcontext

	// Backing image of root depth windows.
	img *xgraphics.Image
}

// Open connects to the X server and maps a window one icon wide at the top
// left corner of the selected output.
func Open(opts Options) (*Window, error) {
	X, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("xwin: failed to connect to X server: %w", err)
	}

	w := &Window{
		X:      X,
		height: opts.IconSize,
		width:  opts.IconSize,
		log:    opts.Logger.With().Str("component", "xwin").Logger(),
	}

	w.monitor, err = w.selectOutput(opts.Output)
	if err != nil {
		X.Conn().Close()
		return nil, err
	}

	if err := w.create(opts.Title); err != nil {
		X.Conn().Close()
		return nil, err
	}

	return w, nil
}

// selectOutput returns the geometry of the named output, falling back to the
// primary output if it is absent or has zero dimensions, and to the whole
// screen if there is no primary output.
func (w *Window) selectOutput(name string) (image.Rectangle, error) {
	conn := w.X.Conn()
	root := w.X.RootWin()
	screen := w.X.Screen()
	whole := image.Rect(0, 0, int(screen.WidthInPixels), int(screen.HeightInPixels))

	if err := randr.Init(conn); err != nil {
		w.log.Warn().Err(err).Msg("RandR unavailable, using whole screen")
		return whole, nil
	}

	res, err := randr.GetScreenResourcesCurrent(conn, root).Reply()
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("xwin: failed to get screen resources: %w", err)
	}

	crtcRect := func(crtc randr.Crtc) (image.Rectangle, error) {
		info, err := randr.GetCrtcInfo(conn, crtc, res.ConfigTimestamp).Reply()
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("xwin: failed to get crtc info: %w", err)
		}

		return image.Rect(int(info.X), int(info.Y), int(info.X)+int(info.Width), int(info.Y)+int(info.Height)), nil
	}

	if name != "" {
		for _, output := range res.Outputs {
			info, err := randr.GetOutputInfo(conn, output, res.ConfigTimestamp).Reply()
			if err != nil || info.Crtc == 0 || info.Connection == randr.ConnectionDisconnected {
				continue
			}

			if string(info.Name) != name {
				continue
			}

			rect, err := crtcRect(info.Crtc)
			if err != nil {
				return image.Rectangle{}, err
			}

			if !rect.Empty() {
				return rect, nil
			}

			break
		}
	}

	w.log.Warn().Str("output", name).Msg("using primary monitor as fallback")

	primary, err := randr.GetOutputPrimary(conn, root).Reply()
	if err != nil || primary.Output == 0 {
		return whole, nil
	}

	info, err := randr.GetOutputInfo(conn, primary.Output, res.ConfigTimestamp).Reply()
	if err != nil || info.Crtc == 0 {
		return whole, nil
	}

	rect, err := crtcRect(info.Crtc)
	if err != nil {
		return image.Rectangle{}, err
	}

	if rect.Empty() {
		return whole, nil
	}

	return rect, nil
}

func (w *Window) create(title string) error {
	win, err := xwindow.Generate(w.X)
	if err != nil {
		return fmt.Errorf("xwin: failed to generate window id: %w", err)
	}

	if visual, ok := argbVisual(w.X.Screen()); ok {
		err = w.createARGB(win, visual)
	} else {
		w.log.Warn().Msg("no 32-bit visual, tray background is opaque")

		err = win.CreateChecked(
			w.X.RootWin(),
			w.monitor.Min.X, w.monitor.Min.Y, w.width, w.height,
			xproto.CwBackPixel|xproto.CwOverrideRedirect|xproto.CwEventMask,
			w.X.Screen().BlackPixel, 1, xproto.EventMaskExposure|xproto.EventMaskButtonPress,
		)
	}
	if err != nil {
		return fmt.Errorf("xwin: failed to create window: %w", err)
	}

	w.win = win

	if title != "" {
		ewmh.WmNameSet(w.X, win.Id, title)
		icccm.WmNameSet(w.X, win.Id, title)
		icccm.WmClassSet(w.X, win.Id, &icccm.WmClass{Instance: title, Class: title})
	}

	if err := ewmh.WmWindowTypeSet(w.X, win.Id, []string{"_NET_WM_WINDOW_TYPE_DOCK"}); err != nil {
		return fmt.Errorf("xwin: failed to set window type: %w", err)
	}

	if err := ewmh.WmStateSet(w.X, win.Id, []string{"_NET_WM_STATE_STICKY", "_NET_WM_STATE_ABOVE"}); err != nil {
		return fmt.Errorf("xwin: failed to set window state: %w", err)
	}

	if err := w.setStruts(); err != nil {
		return err
	}

	win.Map()
	w.mapped = true

	return nil
}

// createARGB creates win with the 32-bit visual and a colormap for it. The
// border pixel and colormap must be given because they cannot be inherited
// from a parent of a different depth.
func (w *Window) createARGB(win *xwindow.Window, visual xproto.Visualid) error {
	conn := w.X.Conn()

	cmap, err := xproto.NewColormapId(conn)
	if err != nil {
		return err
	}

	err = xproto.CreateColormapChecked(conn, xproto.ColormapAllocNone, cmap, w.X.RootWin(), visual).Check()
	if err != nil {
		return err
	}

	w.colormap = cmap

	err = xproto.CreateWindowChecked(
		conn, argbDepth, win.Id, w.X.RootWin(),
		int16(w.monitor.Min.X), int16(w.monitor.Min.Y), uint16(w.width), uint16(w.height), 0,
		xproto.WindowClassInputOutput, visual,
		xproto.CwBackPixel|xproto.CwBorderPixel|xproto.CwOverrideRedirect|xproto.CwEventMask|xproto.CwColormap,
		[]uint32{0, 0, 1, xproto.EventMaskExposure | xproto.EventMaskButtonPress, uint32(cmap)},
	).Check()
	if err != nil {
		return err
	}

	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		return err
	}

	if err := xproto.CreateGCChecked(conn, gc, xproto.Drawable(win.Id), 0, nil).Check(); err != nil {
		return err
	}

	w.gc = gc
	w.depth = argbDepth

	return nil
}

// argbVisual returns the first TrueColor visual of depth 32.
func argbVisual(screen *xproto.ScreenInfo) (xproto.Visualid, bool) {
	for _, depth := range screen.AllowedDepths {
		if depth.Depth != argbDepth {
			continue
		}

		for _, visual := range depth.Visuals {
			if visual.Class == xproto.VisualClassTrueColor {
				return visual.VisualId, true
			}
		}
	}

	return 0, false
}

// setStruts reserves the tray height at the top of the screen over the
// horizontal span of the window.
func (w *Window) setStruts() error {
	top := uint(w.monitor.Min.Y + w.height)

	if err := ewmh.WmStrutSet(w.X, w.win.Id, &ewmh.WmStrut{Top: top}); err != nil {
		return fmt.Errorf("xwin: failed to set strut: %w", err)
	}

	partial := &ewmh.WmStrutPartial{
		Top:       top,
		TopStartX: uint(w.monitor.Min.X),
		TopEndX:   uint(w.monitor.Min.X + max(w.width, 1) - 1),
	}

	if err := ewmh.WmStrutPartialSet(w.X, w.win.Id, partial); err != nil {
		return fmt.Errorf("xwin: failed to set partial strut: %w", err)
	}

	return nil
}

// Resize changes the window size. X11 windows cannot be empty, so a zero
// width unmaps the window instead.
func (w *Window) Resize(width, height int) error {
	w.width = width
	w.height = height

	if width <= 0 {
		if w.mapped {
			w.win.Unmap()
			w.mapped = false
		}

		return nil
	}

	w.win.Resize(width, height)

	if err := w.setStruts(); err != nil {
		return err
	}

	if !w.mapped {
		w.win.Map()
		w.mapped = true
	}

	return nil
}

// Draw replaces the window content with img. 32-bit windows receive the
// pixels directly, others through a new backing pixmap.
func (w *Window) Draw(img image.Image) error {
	if img.Bounds().Empty() {
		return nil
	}

	if w.depth == argbDepth {
		return w.putARGB(img)
	}

	ximg := xgraphics.NewConvert(w.X, img)

	if err := ximg.XSurfaceSet(w.win.Id); err != nil {
		ximg.Destroy()
		return fmt.Errorf("xwin: failed to set surface: %w", err)
	}

	ximg.XDraw()
	ximg.XPaint(w.win.Id)

	if w.img != nil {
		w.img.Destroy()
	}

	w.img = ximg

	return nil
}

// putARGB uploads img in as many PutImage requests as the server's request
// size limit requires.
func (w *Window) putARGB(img image.Image) error {
	conn := w.X.Conn()
	data := argbData(img)
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	stride := width * 4

	// PutImage has a 24 byte header.
	limit := int(xproto.Setup(conn).MaximumRequestLength)*4 - 24
	rows := max(limit/stride, 1)

	for y := 0; y < height; y += rows {
		n := min(rows, height-y)

		err := xproto.PutImageChecked(
			conn, xproto.ImageFormatZPixmap, xproto.Drawable(w.win.Id), w.gc,
			uint16(width), uint16(n), 0, int16(y), 0, argbDepth,
			data[y*stride:(y+n)*stride],
		).Check()
		if err != nil {
			return fmt.Errorf("xwin: failed to put image: %w", err)
		}
	}

	return nil
}

// argbData converts img to premultiplied BGRA rows as expected by 32-bit
// TrueColor visuals.
func argbData(img image.Image) []byte {
	b := img.Bounds()

	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	data := make([]byte, len(rgba.Pix))
	for i := 0; i < len(rgba.Pix); i += 4 {
		data[i] = rgba.Pix[i+2]
		data[i+1] = rgba.Pix[i+1]
		data[i+2] = rgba.Pix[i]
		data[i+3] = rgba.Pix[i+3]
	}

	return data
}

// Listen forwards button presses and expose events to post.
func (w *Window) Listen(post func(sntray.Event) bool) {
	xevent.ButtonPressFun(func(X *xgbutil.XUtil, ev xevent.ButtonPressEvent) {
		post(sntray.InputEvent{
			EventX: int(ev.EventX),
			EventY: int(ev.EventY),
			RootX:  int(ev.RootX),
			RootY:  int(ev.RootY),
			Button: uint8(ev.Detail),
		})
	}).Connect(w.X, w.win.Id)

	xevent.ExposeFun(func(X *xgbutil.XUtil, ev xevent.ExposeEvent) {
		if ev.Count == 0 {
			post(sntray.Expose{})
		}
	}).Connect(w.X, w.win.Id)
}

// Main processes X events until [Window.Close] is called.
func (w *Window) Main() {
	xevent.Main(w.X)
}

// Close destroys the window and disconnects from the X server.
func (w *Window) Close() {
	if w.quitting {
		return
	}

	w.quitting = true

	if w.img != nil {
		w.img.Destroy()
	}

	if w.depth == argbDepth {
		xproto.FreeGC(w.X.Conn(), w.gc)
	}

	if w.colormap != 0 {
		xproto.FreeColormap(w.X.Conn(), w.colormap)
	}

	w.win.Destroy()
	xevent.Quit(w.X)
	w.X.Conn().Close()
}
