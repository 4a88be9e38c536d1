package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds sntray configuration.
type Config struct {
	Tray  TrayConfig  `mapstructure:"tray"`
	Icons IconsConfig `mapstructure:"icons"`
	Bus   BusConfig   `mapstructure:"bus"`
	Log   LogConfig   `mapstructure:"log"`
}

// TrayConfig holds window settings.
type TrayConfig struct {
	IconSize   int    `mapstructure:"icon_size"`
	Background string `mapstructure:"background"`
	Output     string `mapstructure:"output"`
}

// IconsConfig holds icon theme settings. An empty theme is detected from the
// desktop settings.
type IconsConfig struct {
	Theme string   `mapstructure:"theme"`
	Dirs  []string `mapstructure:"dirs"`
}

// BusConfig holds D-Bus settings.
type BusConfig struct {
	IntrospectTimeout time.Duration `mapstructure:"introspect_timeout"`
	QueueSize         int           `mapstructure:"queue_size"`
	EmbeddedWatcher   bool          `mapstructure:"embedded_watcher"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from file and env. Env var overrides use prefix
// SNTRAY_, e.g. SNTRAY_TRAY_ICON_SIZE. If path is empty, SNTRAY_CONFIG and
// then $XDG_CONFIG_HOME/sntray/config.toml are used. Only the latter may be
// missing.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("tray.icon_size", 24)
	v.SetDefault("tray.background", "#000000aa")
	v.SetDefault("tray.output", "")
	v.SetDefault("icons.theme", "")
	v.SetDefault("icons.dirs", DefaultIconDirs())
	v.SetDefault("bus.introspect_timeout", 3*time.Second)
	v.SetDefault("bus.queue_size", 64)
	v.SetDefault("bus.embedded_watcher", true)
	v.SetDefault("log.level", "info")

	v.SetConfigType("toml")

	if path == "" {
		path = os.Getenv("SNTRAY_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Join(configHome(), "sntray"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("SNTRAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Tray.IconSize <= 0 {
		return fmt.Errorf("config: tray.icon_size must be positive, got %d", c.Tray.IconSize)
	}

	if _, err := ParseColor(c.Tray.Background); err != nil {
		return fmt.Errorf("config: tray.background: %w", err)
	}

	if c.Bus.IntrospectTimeout <= 0 {
		return fmt.Errorf("config: bus.introspect_timeout must be positive")
	}

	if c.Bus.QueueSize <= 0 {
		return fmt.Errorf("config: bus.queue_size must be positive, got %d", c.Bus.QueueSize)
	}

	return nil
}

// ParseColor parses "#rgb", "#rrggbb" or "#rrggbbaa".
func ParseColor(s string) (color.NRGBA, error) {
	hex, ok := strings.CutPrefix(s, "#")
	if !ok {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: missing #", s)
	}

	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}

	if len(hex) == 6 {
		hex += "ff"
	}

	if len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}

	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}

	return color.NRGBA{
		R: uint8(n >> 24),
		G: uint8(n >> 16),
		B: uint8(n >> 8),
		A: uint8(n),
	}, nil
}

// DefaultIconDirs returns the XDG icon directories in lookup order.
func DefaultIconDirs() []string {
	dirs := []string{filepath.Join(os.Getenv("HOME"), ".icons")}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(os.Getenv("HOME"), ".local", "share")
	}
	dirs = append(dirs, filepath.Join(dataHome, "icons"))

	dataDirs := os.Getenv("XDG_DATA_DIRS")
	if dataDirs == "" {
		dataDirs = "/usr/local/share:/usr/share"
	}

	for _, dir := range filepath.SplitList(dataDirs) {
		dirs = append(dirs, filepath.Join(dir, "icons"))
	}

	return append(dirs, "/usr/share/pixmaps")
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}

	return filepath.Join(os.Getenv("HOME"), ".config")
}
