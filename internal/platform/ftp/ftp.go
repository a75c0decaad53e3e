// Package ftp implements a Provider that stores media on an FTP or FTPS
// server fronted by a streaming host.
package ftp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goftp "github.com/jlaffaye/ftp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mediapub/internal/failure"
	"mediapub/internal/logging"
	"mediapub/internal/platform"
	"mediapub/internal/store"
)

// Type is the configuration type name.
const Type = "ftp"

// Settings configures the provider.
type Settings struct {
	Host           string `toml:"host" validate:"required,hostname|ip"`
	Port           int    `toml:"port" validate:"min=0,max=65535"`
	User           string `toml:"user" validate:"required"`
	Password       string `toml:"password"`
	Protocol       string `toml:"protocol" validate:"omitempty,oneof=ftp ftps"`
	Directory      string `toml:"directory"`
	StreamURL      string `toml:"stream_url" validate:"required,url"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"min=0"`
	InsecureTLS    bool   `toml:"insecure_tls"`
}

func (s Settings) withDefaults() Settings {
	if s.Port == 0 {
		s.Port = 21
	}
	if s.Protocol == "" {
		s.Protocol = "ftp"
	}
	if s.TimeoutSeconds == 0 {
		s.TimeoutSeconds = 30
	}
	s.Directory = "/" + strings.Trim(s.Directory, "/")
	return s
}

type conn interface {
	Login(user, password string) error
	Stor(path string, r io.Reader) error
	FileSize(path string) (int64, error)
	Delete(path string) error
	Quit() error
}

type dialFunc func(ctx context.Context, cfg Settings) (conn, error)

// Provider uploads over a fresh control connection per operation.
type Provider struct {
	cfg       Settings
	streamURL *url.URL
	dial      dialFunc
	logger    *zap.Logger
}

// Register adds the ftp type to reg.
func Register(reg *platform.Registry) {
	reg.Register(Type, func(settings platform.Settings, deps platform.Deps) (platform.Provider, error) {
		var cfg Settings
		if err := settings.Decode(&cfg); err != nil {
			return nil, err
		}
		return New(cfg, deps.Logger)
	})
}

// New constructs a provider.
func New(cfg Settings, logger *zap.Logger) (*Provider, error) {
	cfg = cfg.withDefaults()
	stream, err := url.Parse(strings.TrimRight(cfg.StreamURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse stream_url: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Provider{
		cfg:       cfg,
		streamURL: stream,
		dial:      dialServer,
		logger:    logging.Component(logger, "platform.ftp"),
	}, nil
}

func dialServer(ctx context.Context, cfg Settings) (conn, error) {
	opts := []goftp.DialOption{
		goftp.DialWithContext(ctx),
		goftp.DialWithTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second),
	}
	if cfg.Protocol == "ftps" {
		opts = append(opts, goftp.DialWithExplicitTLS(&tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.InsecureTLS, //nolint:gosec // operator opt-in for self-signed servers
			MinVersion:         tls.VersionTLS12,
		}))
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	c, err := goftp.Dial(addr, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Provider) session(ctx context.Context, fn func(conn) error) error {
	c, err := p.dial(ctx, p.cfg)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.cfg.Host, err)
	}
	defer func() {
		_ = c.Quit()
	}()
	if err := c.Login(p.cfg.User, p.cfg.Password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return fn(c)
}

// Upload stores the file as <uuid><ext> in the configured directory.
func (p *Provider) Upload(ctx context.Context, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", failure.Wrap(failure.KindPlatform, failure.CodeMediaUpload, "open media", err)
	}
	defer f.Close()

	id := uuid.NewString() + strings.ToLower(filepath.Ext(filePath))
	remote := path.Join(p.cfg.Directory, id)
	attempted := false
	err = p.session(ctx, func(c conn) error {
		attempted = true
		return c.Stor(remote, f)
	})
	if err != nil {
		if attempted {
			p.discard(ctx, remote)
		}
		return "", failure.Wrap(failure.KindPlatform, failure.CodeMediaUpload, "store "+remote, err)
	}
	p.logger.Debug("media stored", zap.String("media_id", id), zap.String(logging.FieldPath, remote))
	return id, nil
}

// discard deletes a partially stored file over a fresh connection; the
// failed transfer may have left the original one unusable.
func (p *Provider) discard(ctx context.Context, remote string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(p.cfg.TimeoutSeconds)*time.Second)
	defer cancel()
	err := p.session(ctx, func(c conn) error {
		return c.Delete(remote)
	})
	if err != nil {
		p.logger.Debug("discard partial upload", zap.String(logging.FieldPath, remote), zap.Error(err))
	}
}

// GetInfo checks each file exists on the server.
func (p *Provider) GetInfo(ctx context.Context, mediaIDs []string, heights []int) (platform.Info, error) {
	var sources store.Sources
	err := p.session(ctx, func(c conn) error {
		for i, id := range mediaIDs {
			if _, err := c.FileSize(path.Join(p.cfg.Directory, id)); err != nil {
				return fmt.Errorf("stat %s: %w", id, err)
			}
			height := 0
			if i < len(heights) {
				height = heights[i]
			}
			mimeType := mime.TypeByExtension(path.Ext(id))
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}
			sources.Files = append(sources.Files, store.Source{
				URL:      p.streamURL.JoinPath(id).String(),
				MimeType: mimeType,
				Height:   height,
				MediaID:  id,
			})
		}
		return nil
	})
	if err != nil {
		return platform.Info{}, failure.Wrap(failure.KindPlatform, failure.CodeMediaConfigure, "query media", err)
	}
	return platform.Info{Available: true, Sources: sources}, nil
}

// Update is a no-op; FTP has no metadata.
func (p *Provider) Update(context.Context, platform.Media, platform.UpdateData, bool) error {
	return nil
}

// Remove deletes each file, attempting all of them.
func (p *Provider) Remove(ctx context.Context, mediaIDs []string) error {
	var errs error
	err := p.session(ctx, func(c conn) error {
		for _, id := range mediaIDs {
			if strings.ContainsAny(id, "/\\") || id == "" {
				errs = multierr.Append(errs, fmt.Errorf("invalid media id %q", id))
				continue
			}
			if err := c.Delete(path.Join(p.cfg.Directory, id)); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("delete %s: %w", id, err))
			}
		}
		return nil
	})
	return multierr.Append(err, errs)
}
