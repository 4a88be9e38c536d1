package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/docopt/docopt-go"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/shelepuginivan/sntray"
	"github.com/shelepuginivan/sntray/internal/config"
	"github.com/shelepuginivan/sntray/internal/icontheme"
	"github.com/shelepuginivan/sntray/internal/xwin"
)

const Version = "0.1.0"

const usage = `StatusNotifierItem system tray.

Usage:
    sntray [--config=<path>] [--output=<name>] [--icon-size=<px>] [--debug]
    sntray -h | --help
    sntray --version

Options:
    -h --help           Show this screen.
    --version           Show version.
    --config=<path>     Configuration file.
    --output=<name>     RandR output to place the tray on.
    --icon-size=<px>    Size of one icon in pixels.
    --debug             Enable debug logging.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	os.Exit(run(opts))
}

// applyFlags overrides configuration values with command line flags.
func applyFlags(cfg *config.Config, opts docopt.Opts) error {
	if output, _ := opts.String("--output"); output != "" {
		cfg.Tray.Output = output
	}

	if size, _ := opts.String("--icon-size"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return fmt.Errorf("invalid --icon-size %q: %w", size, err)
		}

		cfg.Tray.IconSize = n
	}

	if debug, _ := opts.Bool("--debug"); debug {
		cfg.Log.Level = "debug"
	}

	return cfg.Validate()
}

// newLogger writes human-readable logs to a terminal and JSON otherwise.
func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var out io.Writer = os.Stderr
	if term.IsTerminal(int(os.Stderr.Fd())) {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Logger(), nil
}

func run(opts docopt.Opts) int {
	path, _ := opts.String("--config")

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if err := applyFlags(&cfg, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log, err := newLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx := context.Background()

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to session bus")
		return 1
	}
	defer conn.Close()

	if cfg.Bus.EmbeddedWatcher {
		watcher, err := startWatcher(log)
		if err != nil {
			log.Error().Err(err).Msg("failed to start StatusNotifierWatcher")
			return 1
		}

		if watcher != nil {
			defer func() {
				if err := watcher.Close(); err != nil {
					log.Debug().Err(err).Msg("failed to stop StatusNotifierWatcher")
				}
			}()
		}
	}

	themeName := cfg.Icons.Theme
	if themeName == "" {
		themeName = icontheme.Detect(ctx, conn)
	}

	theme := icontheme.New(themeName, cfg.Icons.Dirs)
	log.Debug().Str("theme", theme.Name()).Msg("using icon theme")

	background, err := config.ParseColor(cfg.Tray.Background)
	if err != nil {
		log.Error().Err(err).Msg("invalid background")
		return 1
	}

	win, err := xwin.Open(xwin.Options{
		Output:   cfg.Tray.Output,
		IconSize: cfg.Tray.IconSize,
		Title:    "sntray",
		Logger:   log,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to open tray window")
		return 1
	}
	defer win.Close()

	host := sntray.NewHost(conn, os.Getpid(), sntray.Options{
		IconSize:          cfg.Tray.IconSize,
		Background:        background,
		Surface:           win,
		Resolver:          theme,
		Loader:            theme,
		IntrospectTimeout: cfg.Bus.IntrospectTimeout,
		QueueSize:         cfg.Bus.QueueSize,
		Logger:            &log,
	})

	win.Listen(host.Post)
	go win.Main()

	err = host.Run(ctx)
	log.Error().Err(err).Str("state", host.State().String()).Msg("tray stopped")

	if err := host.Close(); err != nil {
		log.Debug().Err(err).Msg("failed to close host")
	}

	return exitCode(err)
}

// embeddedWatcher owns the connection a [sntray.Watcher] runs on.
type embeddedWatcher struct {
	watcher io.Closer
	conn    io.Closer
}

// Close stops the watcher and closes its connection.
func (w *embeddedWatcher) Close() error {
	return errors.Join(w.watcher.Close(), w.conn.Close())
}

// startWatcher runs a StatusNotifierWatcher on its own connection unless
// another process already provides one, in which case nil is returned.
func startWatcher(log zerolog.Logger) (io.Closer, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}

	watcher := sntray.NewWatcher(conn, log)

	err = watcher.Listen()
	if errors.Is(err, sntray.ErrNameTaken) {
		log.Debug().Msg("using StatusNotifierWatcher of the desktop")
		conn.Close()
		return nil, nil
	}

	if err != nil {
		conn.Close()
		return nil, err
	}

	return &embeddedWatcher{watcher: watcher, conn: conn}, nil
}

// exitCode maps the error returned by [sntray.Host.Run] to the process exit
// status. The tray only stops on failure.
func exitCode(err error) int {
	if err == nil {
		return 0
	}

	return 1
}
