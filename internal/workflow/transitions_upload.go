package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"mediapub/internal/failure"
	"mediapub/internal/fileutil"
	"mediapub/internal/logging"
	"mediapub/internal/platform"
	"mediapub/internal/store"
)

type packageData struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Title      string            `json:"title"`
	Type       store.PackageType `json:"type"`
	Uploader   string            `json:"uploader,omitempty"`
	Group      string            `json:"group,omitempty"`
	MediaFiles []string          `json:"mediaFiles"`
	Heights    []int             `json:"heights"`
	Duration   float64           `json:"duration,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// prepare resolves the upload platform, creates the public directory and
// writes the package description into it.
func (t *task) prepare(ctx context.Context) error {
	if t.pkg.Platform == "" {
		t.pkg.Platform = t.m.defaultPlatform(ctx)
	}
	dir := t.m.layout.publicDir(t.pkg.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return failure.Wrap(failure.KindPackage, failure.CodeCreatePublicDir, "create public directory", err)
	}
	files := t.pkg.MetaStrings(store.MetaMediaFiles)
	data := packageData{
		ID:         t.pkg.ID,
		Name:       t.pkg.Name,
		Title:      t.pkg.MetaString(store.MetaTitle),
		Type:       t.pkg.PackageType,
		Uploader:   t.pkg.MetaString(store.MetaUploader),
		Group:      t.pkg.MetaString(store.MetaGroup),
		MediaFiles: files,
		Heights:    alignedHeights(t.pkg.MetaInts(store.MetaMediaHeights), len(files)),
		CreatedAt:  t.pkg.CreatedAt,
	}
	if d, ok := t.pkg.MetaFloat(store.MetaDuration); ok {
		data.Duration = d
	}
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode package data: %w", err)
	}
	if err := fileutil.WriteFile(t.m.layout.publicPath(t.pkg.ID, packageDataName), body, 0o644); err != nil {
		return failure.Wrap(failure.KindPackage, failure.CodeSavePackageData, "write package data", err)
	}
	return nil
}

// defaultPlatform returns the operator default from the settings table,
// falling back to pipeline.default_platform.
func (m *Manager) defaultPlatform(ctx context.Context) string {
	value, ok, err := m.store.Setting(ctx, store.SettingDefaultPlatform)
	if err != nil {
		m.logger.Warn("read default platform setting", zap.Error(err))
	}
	if ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(m.cfg.Pipeline.DefaultPlatform)
}

// upload sends every media file not yet uploaded. Ids are persisted one at a
// time so an interrupted upload resumes with the next file. Without a
// platform the package rests in WAITING_FOR_UPLOAD.
func (t *task) upload(ctx context.Context) error {
	if t.pkg.Platform == "" {
		t.pkg.State = store.StateWaitingForUpload
		return errRest
	}
	provider, err := t.m.registry.Get(t.pkg.Platform)
	if err != nil {
		return err
	}
	files := t.pkg.MetaStrings(store.MetaMediaFiles)
	if len(files) == 0 {
		return failure.New(failure.KindPackage, failure.CodeMediaUpload, "package has no media files")
	}
	if len(t.pkg.MediaIDs) >= len(files) {
		t.logger.Debug("media already uploaded")
		return nil
	}

	if err := t.m.uploads.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.m.uploads.Release(1)

	t.pkg.State = store.StateUploading
	if err := t.m.store.Update(ctx, t.pkg); err != nil {
		return fmt.Errorf("persist uploading state: %w", err)
	}

	heights := alignedHeights(t.pkg.MetaInts(store.MetaMediaHeights), len(files))
	t.pkg.MediasHeights = t.pkg.MediasHeights[:min(len(t.pkg.MediasHeights), len(t.pkg.MediaIDs))]
	for len(t.pkg.MediasHeights) < len(t.pkg.MediaIDs) {
		t.pkg.MediasHeights = append(t.pkg.MediasHeights, heights[len(t.pkg.MediasHeights)])
	}
	uploaded, _ := t.pkg.MetaInt(store.MetaUploadedBytes)
	for i := len(t.pkg.MediaIDs); i < len(files); i++ {
		path := t.m.layout.mediaPath(t.pkg.ID, files[i])
		info, err := os.Stat(path)
		if err != nil {
			return failure.Wrap(failure.KindPackage, failure.CodeMediaUpload, "stat "+files[i], err)
		}
		id, err := provider.Upload(ctx, path)
		if err != nil {
			return failure.Wrap(failure.KindPlatform, failure.CodeMediaUpload, "upload "+files[i], err)
		}
		t.pkg.MediaIDs = append(t.pkg.MediaIDs, id)
		t.pkg.MediasHeights = append(t.pkg.MediasHeights, heights[i])
		uploaded += int(info.Size())
		t.pkg.SetMeta(store.MetaUploadedBytes, uploaded)
		t.m.metrics.AddUploadedBytes(info.Size())
		if err := t.m.store.Update(ctx, t.pkg); err != nil {
			return fmt.Errorf("persist media id: %w", err)
		}
		t.logger.Info("media uploaded",
			zap.String(logging.FieldPath, files[i]),
			zap.String("media_id", id),
			zap.Int64("bytes", info.Size()),
		)
	}
	return nil
}

// synchronize polls the platform until the media are deliverable, stores
// the delivery sources and pushes the package title.
func (t *task) synchronize(ctx context.Context) error {
	provider, err := t.m.registry.Get(t.pkg.Platform)
	if err != nil {
		return err
	}
	attempts := t.m.cfg.Pipeline.SyncAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var info platform.Info
	for attempt := 1; ; attempt++ {
		info, err = provider.GetInfo(ctx, t.pkg.MediaIDs, t.pkg.MediasHeights)
		if err != nil {
			return failure.Wrap(failure.KindPlatform, failure.CodeMediaConfigure, "get media info", err)
		}
		if info.Available {
			break
		}
		if attempt >= attempts {
			return failure.Newf(failure.KindPlatform, failure.CodeMediaConfigure,
				"media not available after %d attempts", attempts)
		}
		t.logger.Debug("media not available yet", zap.Int("attempt", attempt))
		if err := sleep(ctx, t.m.syncInterval); err != nil {
			return err
		}
	}
	t.pkg.Sources = info.Sources

	media := platform.Media{IDs: t.pkg.MediaIDs, Heights: t.pkg.MediasHeights}
	data := platform.UpdateData{Title: t.pkg.MetaString(store.MetaTitle)}
	if err := provider.Update(ctx, media, data, false); err != nil {
		return failure.Wrap(failure.KindPlatform, failure.CodeMediaConfigure, "update media", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
