package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"mediapub/internal/archive"
	"mediapub/internal/failure"
	"mediapub/internal/fileutil"
	"mediapub/internal/logging"
	"mediapub/internal/packagetype"
	"mediapub/internal/store"
)

// copySource copies the dropped file into the package working directory.
// The copy lands under a temporary name and is verified before it replaces
// any previous attempt.
func (t *task) copySource(ctx context.Context) error {
	dst := t.m.layout.sourceFile(t.pkg)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create source directory: %w", err)
	}
	if err := fileutil.CopyFileVerified(ctx, t.pkg.OriginalPath, dst); err != nil {
		return failure.Wrap(failure.KindPackage, failure.CodeCopy, "copy "+filepath.Base(t.pkg.OriginalPath), err)
	}
	t.logger.Debug("source copied", zap.String(logging.FieldPath, dst))
	return nil
}

// removeOriginal unlinks the dropped file once it is safely copied.
func (t *task) removeOriginal(context.Context) error {
	if err := os.Remove(t.pkg.OriginalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return failure.Wrap(failure.KindPackage, failure.CodeUnlink, "remove original", err)
	}
	return nil
}

// extract unpacks archives, or stages the single video, into the package
// directory. The target is emptied first so reruns start clean.
func (t *task) extract(ctx context.Context) error {
	src := t.m.layout.sourceFile(t.pkg)
	dst := t.m.layout.packageDir(t.pkg.ID)
	switch t.pkg.PackageType {
	case store.PackageTypeArchive:
		files, err := archive.Extract(ctx, src, dst)
		if err != nil {
			return failure.Wrap(failure.KindArchive, failure.CodeExtract, "extract archive", err)
		}
		t.logger.Debug("archive extracted", zap.Int("files", len(files)))
		return nil
	case store.PackageTypeVideo:
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("clear package directory: %w", err)
		}
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return fmt.Errorf("create package directory: %w", err)
		}
		if _, err := fileutil.CopyFile(ctx, src, filepath.Join(dst, filepath.Base(src))); err != nil {
			return failure.Wrap(failure.KindPackage, failure.CodeExtract, "stage video", err)
		}
		return nil
	default:
		return failure.Newf(failure.KindPackage, failure.CodeExtract, "unknown package type %q", t.pkg.PackageType)
	}
}

// validate resolves the package type and checks its content, recording the
// media files, heights, title and timecodes it declares.
func (t *task) validate(context.Context) error {
	dir := t.m.layout.packageDir(t.pkg.ID)
	typ, err := packagetype.Resolve(t.pkg.OriginalPath, dir)
	if err != nil {
		return failure.Wrap(failure.KindValidation, failure.CodeValidation, "resolve package type", err)
	}
	title := t.pkg.MetaString(store.MetaTitle)
	if title == "" {
		title = t.pkg.Name
	}
	manifest, err := packagetype.Validate(dir, typ, title)
	if err != nil {
		return failure.Wrap(failure.KindValidation, failure.CodeValidation, "validate package", err)
	}

	files := make([]string, 0, len(manifest.Medias))
	heights := make([]int, 0, len(manifest.Medias))
	seen := make(map[string]struct{}, len(manifest.Medias))
	for _, media := range manifest.Medias {
		rel := filepath.ToSlash(filepath.Clean(filepath.FromSlash(media.File)))
		if _, dup := seen[rel]; dup {
			return failure.Newf(failure.KindValidation, failure.CodeValidation, "media %s listed twice", rel)
		}
		seen[rel] = struct{}{}
		files = append(files, rel)
		heights = append(heights, media.Height)
	}
	t.pkg.SetMeta(store.MetaMediaFiles, files)
	t.pkg.SetMeta(store.MetaMediaHeights, heights)
	if typ.Variant == store.PackageTypeArchive {
		t.pkg.SetMeta(store.MetaArchiveFormat, int(typ.Version))
	}
	if manifest.Title != "" {
		t.pkg.SetMeta(store.MetaTitle, manifest.Title)
		t.pkg.Name = manifest.Title
	} else if t.pkg.MetaString(store.MetaTitle) == "" {
		t.pkg.SetMeta(store.MetaTitle, t.pkg.Name)
	}
	t.pkg.Timecodes = t.pkg.Timecodes[:0]
	for _, tc := range manifest.Timecodes {
		image := tc.Image
		if image != "" {
			image = filepath.ToSlash(filepath.Clean(filepath.FromSlash(image)))
		}
		t.pkg.Timecodes = append(t.pkg.Timecodes, store.Timecode{Timecode: tc.Time, Image: image})
	}
	return nil
}
