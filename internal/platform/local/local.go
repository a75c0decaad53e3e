// Package local implements a Provider that publishes media by copying them
// into a directory served by a web server.
package local

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mediapub/internal/failure"
	"mediapub/internal/fileutil"
	"mediapub/internal/logging"
	"mediapub/internal/platform"
	"mediapub/internal/store"
)

// Type is the configuration type name.
const Type = "local"

// Settings configures the provider.
type Settings struct {
	Root      string `toml:"root" validate:"required"`
	PublicURL string `toml:"public_url" validate:"required,url"`
}

// Provider copies media below Root and serves them from PublicURL.
type Provider struct {
	root      string
	publicURL *url.URL
	logger    *zap.Logger
}

// Register adds the local type to reg.
func Register(reg *platform.Registry) {
	reg.Register(Type, func(settings platform.Settings, deps platform.Deps) (platform.Provider, error) {
		var cfg Settings
		if err := settings.Decode(&cfg); err != nil {
			return nil, err
		}
		return New(cfg, deps.Logger)
	})
}

// New constructs a provider, creating the root directory when needed.
func New(cfg Settings, logger *zap.Logger) (*Provider, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	public, err := url.Parse(strings.TrimRight(cfg.PublicURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse public_url: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Provider{root: root, publicURL: public, logger: logging.Component(logger, "platform.local")}, nil
}

// Upload copies the file to root/<id>/<basename>.
func (p *Provider) Upload(ctx context.Context, filePath string) (string, error) {
	id := uuid.NewString()
	dst := filepath.Join(p.root, id, filepath.Base(filePath))
	written, err := fileutil.CopyFile(ctx, filePath, dst)
	if err != nil {
		_ = os.RemoveAll(filepath.Join(p.root, id))
		return "", failure.Wrap(failure.KindPlatform, failure.CodeMediaUpload, "copy media", err)
	}
	p.logger.Debug("media stored",
		zap.String("media_id", id),
		zap.String(logging.FieldPath, dst),
		zap.Int64("bytes", written),
	)
	return id, nil
}

// GetInfo is available as soon as every media directory holds its file.
func (p *Provider) GetInfo(_ context.Context, mediaIDs []string, heights []int) (platform.Info, error) {
	var sources store.Sources
	for i, id := range mediaIDs {
		file, err := p.mediaFile(id)
		if err != nil {
			return platform.Info{}, failure.Wrap(failure.KindPlatform, failure.CodeMediaConfigure, "locate media "+id, err)
		}
		mime := "application/octet-stream"
		if detected, err := mimetype.DetectFile(file); err == nil {
			mime = detected.String()
		}
		height := 0
		if i < len(heights) {
			height = heights[i]
		}
		sources.Files = append(sources.Files, store.Source{
			URL:      p.publicURL.JoinPath(id, filepath.Base(file)).String(),
			MimeType: mime,
			Height:   height,
			MediaID:  id,
		})
	}
	return platform.Info{Available: true, Sources: sources}, nil
}

// Update is a no-op; plain files carry no metadata.
func (p *Provider) Update(context.Context, platform.Media, platform.UpdateData, bool) error {
	return nil
}

// Remove deletes each media directory.
func (p *Provider) Remove(_ context.Context, mediaIDs []string) error {
	var errs error
	for _, id := range mediaIDs {
		dir, err := p.mediaDir(id)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("remove %s: %w", id, err))
		}
	}
	return errs
}

func (p *Provider) mediaDir(id string) (string, error) {
	clean := path.Clean("/" + id)[1:]
	if clean == "" || clean != id || strings.Contains(id, "/") {
		return "", fmt.Errorf("invalid media id %q", id)
	}
	return filepath.Join(p.root, id), nil
}

func (p *Provider) mediaFile(id string) (string, error) {
	dir, err := p.mediaDir(id)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("media %s has no file", id)
}
