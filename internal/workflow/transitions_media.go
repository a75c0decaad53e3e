package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mediapub/internal/failure"
	"mediapub/internal/logging"
	"mediapub/internal/store"
)

func (t *task) defragment(ctx context.Context) error {
	for _, rel := range mp4Files(t.pkg) {
		path := t.m.layout.mediaPath(t.pkg.ID, rel)
		if err := t.m.tools.Defragment(ctx, path); err != nil {
			return failure.Wrap(failure.KindPackage, failure.CodeDefragmentMP4, "defragment "+rel, err)
		}
		t.logger.Debug("media defragmented", zap.String(logging.FieldPath, rel))
	}
	return nil
}

// generateThumb grabs a frame of the first media file into the working
// directory; copyImages publishes it.
func (t *task) generateThumb(ctx context.Context) error {
	files := t.pkg.MetaStrings(store.MetaMediaFiles)
	if len(files) == 0 {
		return failure.New(failure.KindPackage, failure.CodeGenerateThumb, "package has no media files")
	}
	offset := float64(t.m.cfg.Pipeline.ThumbOffsetSeconds)
	if duration, ok := t.pkg.MetaFloat(store.MetaDuration); ok && duration > 0 && offset > duration/2 {
		offset = duration / 2
	}
	src := t.m.layout.mediaPath(t.pkg.ID, files[0])
	if err := t.m.tools.Thumbnail(ctx, src, t.m.layout.thumbFile(t.pkg.ID), offset); err != nil {
		return failure.Wrap(failure.KindPackage, failure.CodeGenerateThumb, "generate thumbnail", err)
	}
	t.pkg.SetMeta(store.MetaThumb, thumbName)
	return nil
}

// getMetadata probes every media file, filling heights the manifest left
// blank and recording the longest duration.
func (t *task) getMetadata(ctx context.Context) error {
	files := t.pkg.MetaStrings(store.MetaMediaFiles)
	heights := alignedHeights(t.pkg.MetaInts(store.MetaMediaHeights), len(files))
	var duration float64
	for i, rel := range files {
		result, err := t.m.tools.Probe(ctx, t.m.layout.mediaPath(t.pkg.ID, rel))
		if err != nil {
			return failure.Wrap(failure.KindPackage, failure.CodeGetMetadata, "probe "+rel, err)
		}
		height := result.MaxHeight()
		if height == 0 {
			return failure.Newf(failure.KindPackage, failure.CodeGetMetadata, "probe %s: no video stream", rel)
		}
		if heights[i] == 0 {
			heights[i] = height
		}
		if d := result.DurationSeconds(); d > duration {
			duration = d
		}
	}
	t.pkg.SetMeta(store.MetaMediaHeights, heights)
	if duration > 0 {
		t.pkg.SetMeta(store.MetaDuration, duration)
	}
	t.logger.Debug("media probed", zap.Ints("heights", heights), zap.String("duration", fmt.Sprintf("%.2fs", duration)))
	return nil
}

func alignedHeights(heights []int, n int) []int {
	out := make([]int, n)
	copy(out, heights)
	return out
}
