package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"mediapub/internal/failure"
	"mediapub/internal/fileutil"
	"mediapub/internal/sprite"
	"mediapub/internal/store"
)

// saveTimecodes orders the timecodes and writes them next to the public
// assets.
func (t *task) saveTimecodes(context.Context) error {
	sort.SliceStable(t.pkg.Timecodes, func(i, j int) bool {
		return t.pkg.Timecodes[i].Timecode < t.pkg.Timecodes[j].Timecode
	})
	if err := os.MkdirAll(t.m.layout.publicDir(t.pkg.ID), 0o755); err != nil {
		return failure.Wrap(failure.KindPackage, failure.CodeCreatePublicDir, "create public directory", err)
	}
	return t.writeTimecodes()
}

func (t *task) writeTimecodes() error {
	timecodes := t.pkg.Timecodes
	if timecodes == nil {
		timecodes = []store.Timecode{}
	}
	body, err := json.MarshalIndent(timecodes, "", "  ")
	if err != nil {
		return fmt.Errorf("encode timecodes: %w", err)
	}
	if err := fileutil.WriteFile(t.m.layout.publicPath(t.pkg.ID, timecodesDataName), body, 0o644); err != nil {
		return failure.Wrap(failure.KindPackage, failure.CodeSaveTimecode, "write timecodes", err)
	}
	return nil
}

// copyImages publishes the thumbnail and timecode images, then packs the
// images into a sprite sheet and records each timecode's tile.
func (t *task) copyImages(ctx context.Context) error {
	publicDir := t.m.layout.publicDir(t.pkg.ID)
	if err := os.MkdirAll(filepath.Join(publicDir, imagesDir), 0o755); err != nil {
		return failure.Wrap(failure.KindPackage, failure.CodeCreatePublicDir, "create public directory", err)
	}

	if t.pkg.MetaString(store.MetaThumb) != "" {
		src := t.m.layout.thumbFile(t.pkg.ID)
		dst := t.m.layout.publicPath(t.pkg.ID, thumbName)
		if _, err := os.Stat(src); err == nil {
			if _, err := fileutil.CopyFile(ctx, src, dst); err != nil {
				return failure.Wrap(failure.KindPackage, failure.CodeCopyImages, "publish thumbnail", err)
			}
		} else if _, err := os.Stat(dst); err != nil {
			return failure.Wrap(failure.KindPackage, failure.CodeScanForImages, "thumbnail missing", err)
		}
	}

	var sheet []string
	var sheetIdx []int
	for i := range t.pkg.Timecodes {
		tc := &t.pkg.Timecodes[i]
		if tc.Image == "" {
			continue
		}
		published, err := t.publishImage(ctx, tc.Image)
		if err != nil {
			return err
		}
		tc.Image = published
		sheet = append(sheet, t.m.layout.publicPath(t.pkg.ID, published))
		sheetIdx = append(sheetIdx, i)
	}

	if len(sheet) > 0 {
		tiles, err := sprite.Build(sheet, t.m.layout.publicPath(t.pkg.ID, spriteName), sprite.Options{
			Columns:    t.m.cfg.Pipeline.SpriteColumns,
			ThumbWidth: t.m.cfg.Pipeline.SpriteThumbWidth,
		})
		if err != nil {
			return failure.Wrap(failure.KindPackage, failure.CodeCopyImages, "build sprite", err)
		}
		for n, tile := range tiles {
			tc := &t.pkg.Timecodes[sheetIdx[n]]
			tc.Sprite = spriteName
			tc.X, tc.Y, tc.Width, tc.Height = tile.X, tile.Y, tile.Width, tile.Height
		}
		t.logger.Debug("sprite built", zap.Int("tiles", len(tiles)))
	}
	return t.writeTimecodes()
}

// publishImage copies one timecode image into the public images directory
// and returns its public relative path. Images already published, such as
// those inherited from a merge, are kept.
func (t *task) publishImage(ctx context.Context, rel string) (string, error) {
	published := publishedImagePath(rel)
	dst := t.m.layout.publicPath(t.pkg.ID, published)
	src := t.m.layout.mediaPath(t.pkg.ID, rel)
	if _, err := os.Stat(src); err != nil {
		if _, perr := os.Stat(t.m.layout.publicPath(t.pkg.ID, rel)); perr == nil {
			return path.Clean(rel), nil
		}
		if _, perr := os.Stat(dst); perr == nil {
			return published, nil
		}
		return "", failure.Wrap(failure.KindPackage, failure.CodeScanForImages, "timecode image "+rel, err)
	}
	if _, err := fileutil.CopyFile(ctx, src, dst); err != nil {
		return "", failure.Wrap(failure.KindPackage, failure.CodeCopyImages, "copy image "+rel, err)
	}
	return published, nil
}

// publishedImagePath keeps the image's subdirectory under the public images
// directory so images sharing a base name stay distinct.
func publishedImagePath(rel string) string {
	clean := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(rel)), "/")
	if first, _, _ := strings.Cut(clean, "/"); first == imagesDir {
		return clean
	}
	return path.Join(imagesDir, clean)
}

// cleanDirectory drops the copied source and every extracted file that is
// not a media file. Media stay so the package can be uploaded again.
func (t *task) cleanDirectory(context.Context) error {
	for _, p := range []string{t.m.layout.sourceDir(t.pkg.ID), t.m.layout.thumbFile(t.pkg.ID)} {
		if err := os.RemoveAll(p); err != nil {
			return failure.Wrap(failure.KindPackage, failure.CodeCleanFile, "remove working file", err)
		}
	}

	keep := make(map[string]struct{})
	for _, rel := range t.pkg.MetaStrings(store.MetaMediaFiles) {
		keep[filepath.Clean(t.m.layout.mediaPath(t.pkg.ID, rel))] = struct{}{}
	}
	root := t.m.layout.packageDir(t.pkg.ID)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := keep[filepath.Clean(p)]; ok {
			return nil
		}
		return os.Remove(p)
	})
	if err == nil {
		err = fileutil.RemoveEmptyDirs(root)
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return failure.Wrap(failure.KindPackage, failure.CodeCleanDirectory, "clean package directory", err)
	}
	return nil
}
