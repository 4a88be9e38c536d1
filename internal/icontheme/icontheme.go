// Package icontheme resolves Freedesktop icon names to files and decodes
// them.
package icontheme

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// ErrNotFound is returned when no file exists for an icon name.
var ErrNotFound = errors.New("icon not found")

// Formats Load can decode. XPM icons are not supported.
var extensions = []string{".png", ".svg"}

const fallbackTheme = "hicolor"

// Theme looks icons up in an icon theme, its parents and hicolor.
//
// Theme is not safe for concurrent use.
type Theme struct {
	name  string
	dirs  []string
	cache map[cacheKey]image.Image
}

type cacheKey struct {
	path string
	size int
}

// New returns a [Theme] searching the theme called name in dirs. dirs are
// base directories such as /usr/share/icons and /usr/share/pixmaps.
func New(name string, dirs []string) *Theme {
	if name == "" {
		name = fallbackTheme
	}

	return &Theme{
		name:  name,
		dirs:  dirs,
		cache: make(map[cacheKey]image.Image),
	}
}

// Name returns the name of the theme.
func (t *Theme) Name() string {
	return t.name
}

// Lookup returns the file of the icon called name closest to size pixels.
// themePath is searched first when not empty. Absolute paths are returned as
// is if the file exists.
func (t *Theme) Lookup(name string, size int, themePath string) (string, error) {
	if filepath.IsAbs(name) {
		if isFile(name) {
			return name, nil
		}

		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if themePath != "" {
		if path, ok := bestMatch(searchDir(themePath, name), size); ok {
			return path, nil
		}
	}

	for _, theme := range t.chain() {
		for _, dir := range t.dirs {
			base := filepath.Join(dir, theme)
			if !isDir(base) {
				continue
			}

			if path, ok := bestMatch(searchDir(base, name), size); ok {
				return path, nil
			}
		}
	}

	for _, dir := range t.dirs {
		for _, ext := range extensions {
			if path := filepath.Join(dir, name+ext); isFile(path) {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// chain returns the theme, the themes it inherits from and hicolor, without
// duplicates.
func (t *Theme) chain() []string {
	chain := []string{}
	queue := []string{t.name}

	for len(queue) > 0 {
		theme := queue[0]
		queue = queue[1:]

		if slices.Contains(chain, theme) {
			continue
		}

		chain = append(chain, theme)
		queue = append(queue, t.parents(theme)...)
	}

	if !slices.Contains(chain, fallbackTheme) {
		chain = append(chain, fallbackTheme)
	}

	return chain
}

// parents reads the Inherits key of the first index.theme found for theme.
func (t *Theme) parents(theme string) []string {
	for _, dir := range t.dirs {
		f, err := os.Open(filepath.Join(dir, theme, "index.theme"))
		if err != nil {
			continue
		}

		parents := readInherits(f)
		f.Close()

		return parents
	}

	return nil
}

func readInherits(f *os.File) []string {
	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		value, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "Inherits=")
		if !ok {
			continue
		}

		var parents []string
		for _, parent := range strings.Split(value, ",") {
			if parent = strings.TrimSpace(parent); parent != "" {
				parents = append(parents, parent)
			}
		}

		return parents
	}

	return nil
}

// searchDir returns the files named after the icon directly in dir and up to
// three directory levels below it. This covers "24x24/apps" and "apps/24"
// theme layouts as well as item theme paths holding a whole theme.
func searchDir(dir, name string) []string {
	var found []string

	for _, pattern := range []string{"", "*", filepath.Join("*", "*"), filepath.Join("*", "*", "*")} {
		for _, ext := range extensions {
			matches, err := filepath.Glob(filepath.Join(dir, pattern, name+ext))
			if err != nil {
				continue
			}

			found = append(found, matches...)
		}
	}

	return found
}

// bestMatch picks the candidate whose directory size is closest to size.
// Scalable icons match any size; bitmaps win ties.
func bestMatch(candidates []string, size int) (string, bool) {
	best := ""
	bestScore := -1

	for _, path := range candidates {
		score := sizeDistance(path, size)

		better := bestScore < 0 || score < bestScore
		tieBreak := score == bestScore && filepath.Ext(best) == ".svg" && filepath.Ext(path) == ".png"

		if better || tieBreak {
			best = path
			bestScore = score
		}
	}

	return best, best != ""
}

func sizeDistance(path string, size int) int {
	const unknown = 1 << 16

	parts := strings.Split(filepath.ToSlash(filepath.Dir(path)), "/")
	slices.Reverse(parts)

	for _, part := range parts {
		if part == "scalable" || part == "symbolic" {
			return 0
		}

		dim, _, _ := strings.Cut(part, "x")
		dim, _, _ = strings.Cut(dim, "@")

		n, err := strconv.Atoi(dim)
		if err != nil || n <= 0 {
			continue
		}

		if n > size {
			return n - size
		}

		// Upscaling looks worse than downscaling.
		return 2 * (size - n)
	}

	if filepath.Ext(path) == ".svg" {
		return 0
	}

	return unknown
}

// Load decodes the icon file at path. SVG files are rasterized to size
// pixels. Decoded images are cached.
func (t *Theme) Load(path string, size int) (image.Image, error) {
	key := cacheKey{path: path, size: size}
	if img, ok := t.cache[key]; ok {
		return img, nil
	}

	var (
		img image.Image
		err error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		img, err = loadSVG(path, size)
	default:
		img, err = loadImage(path)
	}

	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	t.cache[key] = img

	return img, nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

func loadSVG(path string, size int) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	icon, err := oksvg.ReadIconStream(f, oksvg.WarnErrorMode)
	if err != nil {
		return nil, err
	}

	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1)

	return img, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
