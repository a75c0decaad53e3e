// Package sprite packs timecode images into a single JPEG sprite sheet and
// reports where each image landed so players can crop it back out.
package sprite

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"golang.org/x/image/draw"
)

// ErrNoImages is returned when there is nothing to pack.
var ErrNoImages = errors.New("sprite: no images")

// Tile locates one source image inside the sheet.
type Tile struct {
	Source string
	X      int
	Y      int
	Width  int
	Height int
}

// Options controls the sheet layout.
type Options struct {
	Columns    int
	ThumbWidth int
	Quality    int
}

func (o Options) withDefaults() Options {
	if o.Columns <= 0 {
		o.Columns = 10
	}
	if o.ThumbWidth <= 0 {
		o.ThumbWidth = 160
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 80
	}
	return o
}

// Build scales every image in sources to opts.ThumbWidth, lays them out
// row-major in a grid of opts.Columns and writes the sheet to dst. Tiles are
// returned in source order.
func Build(sources []string, dst string, opts Options) ([]Tile, error) {
	if len(sources) == 0 {
		return nil, ErrNoImages
	}
	opts = opts.withDefaults()

	decoded := make([]image.Image, len(sources))
	cellHeight := 0
	heights := make([]int, len(sources))
	for i, src := range sources {
		img, err := decode(src)
		if err != nil {
			return nil, err
		}
		bounds := img.Bounds()
		if bounds.Dx() == 0 || bounds.Dy() == 0 {
			return nil, fmt.Errorf("sprite: %s has no pixels", filepath.Base(src))
		}
		h := bounds.Dy() * opts.ThumbWidth / bounds.Dx()
		if h < 1 {
			h = 1
		}
		decoded[i] = img
		heights[i] = h
		if h > cellHeight {
			cellHeight = h
		}
	}

	columns := opts.Columns
	if len(sources) < columns {
		columns = len(sources)
	}
	rows := (len(sources) + columns - 1) / columns
	sheet := image.NewRGBA(image.Rect(0, 0, columns*opts.ThumbWidth, rows*cellHeight))
	draw.Draw(sheet, sheet.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	tiles := make([]Tile, len(sources))
	for i, img := range decoded {
		x := (i % columns) * opts.ThumbWidth
		y := (i / columns) * cellHeight
		rect := image.Rect(x, y, x+opts.ThumbWidth, y+heights[i])
		draw.CatmullRom.Scale(sheet, rect, img, img.Bounds(), draw.Over, nil)
		tiles[i] = Tile{Source: sources[i], X: x, Y: y, Width: opts.ThumbWidth, Height: heights[i]}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("sprite: create directory: %w", err)
	}
	out, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, fmt.Errorf("sprite: create output: %w", err)
	}
	defer func() {
		_ = out.Cleanup()
	}()
	if err := jpeg.Encode(out, sheet, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("sprite: encode: %w", err)
	}
	if err := out.CloseAtomicallyReplace(); err != nil {
		return nil, fmt.Errorf("sprite: write: %w", err)
	}
	return tiles, nil
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sprite: open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("sprite: decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
