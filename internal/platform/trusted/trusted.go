// Package trusted implements a Provider for an internal media service that
// ingests files from a shared directory and is reached over TLS with a
// private certificate authority.
package trusted

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

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
const Type = "trusted"

// Settings configures the provider.
type Settings struct {
	BaseURL         string `toml:"base_url" validate:"required,url"`
	AccessToken     string `toml:"access_token" validate:"required"`
	CACertificate   string `toml:"ca_certificate" validate:"required"`
	SharedDirectory string `toml:"shared_directory" validate:"required"`
	TimeoutSeconds  int    `toml:"timeout_seconds" validate:"min=0"`
}

// Provider hands media over through the shared directory.
type Provider struct {
	base   *url.URL
	token  string
	shared string
	http   *http.Client
	logger *zap.Logger
}

// Register adds the trusted type to reg.
func Register(reg *platform.Registry) {
	reg.Register(Type, func(settings platform.Settings, deps platform.Deps) (platform.Provider, error) {
		var cfg Settings
		if err := settings.Decode(&cfg); err != nil {
			return nil, err
		}
		return New(cfg, deps.Logger)
	})
}

// New constructs a provider with a TLS client trusting the configured CA.
func New(cfg Settings, logger *zap.Logger) (*Provider, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base_url: %w", err)
	}
	if cfg.CACertificate == "" {
		return nil, errors.New("ca_certificate is required")
	}
	pem, err := os.ReadFile(cfg.CACertificate)
	if err != nil {
		return nil, fmt.Errorf("read ca_certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("ca_certificate %s holds no PEM certificates", cfg.CACertificate)
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: pool}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Provider{
		base:   base,
		token:  cfg.AccessToken,
		shared: cfg.SharedDirectory,
		http:   &http.Client{Transport: transport, Timeout: timeout},
		logger: logging.Component(logger, "platform.trusted"),
	}, nil
}

type mediaResponse struct {
	ID      string        `json:"id"`
	Status  string        `json:"status"`
	Sources store.Sources `json:"sources"`
}

// Upload copies the file into the shared directory and registers it.
func (p *Provider) Upload(ctx context.Context, filePath string) (string, error) {
	name := uuid.NewString() + strings.ToLower(filepath.Ext(filePath))
	shared := filepath.Join(p.shared, name)
	if _, err := fileutil.CopyFile(ctx, filePath, shared); err != nil {
		return "", failure.Wrap(failure.KindPlatform, failure.CodeMediaUpload, "copy to shared directory", err)
	}
	var resp mediaResponse
	if err := p.call(ctx, http.MethodPost, "/medias", map[string]string{"path": name}, &resp, http.StatusCreated, http.StatusOK); err != nil {
		_ = os.Remove(shared)
		return "", failure.Wrap(failure.KindPlatform, failure.CodeMediaUpload, "register media", err)
	}
	if resp.ID == "" {
		_ = os.Remove(shared)
		return "", failure.New(failure.KindPlatform, failure.CodeMediaUpload, "register media: response has no id")
	}
	p.logger.Debug("media registered", zap.String("media_id", resp.ID), zap.String(logging.FieldPath, shared))
	return resp.ID, nil
}

// GetInfo is available when the service marks every media ready.
func (p *Provider) GetInfo(ctx context.Context, mediaIDs []string, _ []int) (platform.Info, error) {
	var sources store.Sources
	for _, id := range mediaIDs {
		var resp mediaResponse
		if err := p.call(ctx, http.MethodGet, "/medias/"+id, nil, &resp, http.StatusOK); err != nil {
			return platform.Info{}, failure.Wrap(failure.KindPlatform, failure.CodeMediaConfigure, "fetch media "+id, err)
		}
		if !strings.EqualFold(resp.Status, "ready") {
			return platform.Info{Available: false}, nil
		}
		for _, src := range resp.Sources.Adaptive {
			src.MediaID = id
			sources.Adaptive = append(sources.Adaptive, src)
		}
		for _, src := range resp.Sources.Files {
			src.MediaID = id
			sources.Files = append(sources.Files, src)
		}
	}
	return platform.Info{Available: true, Sources: sources}, nil
}

// Update is a no-op; the service keeps no descriptive metadata.
func (p *Provider) Update(context.Context, platform.Media, platform.UpdateData, bool) error {
	return nil
}

// Remove deletes each media, attempting all of them.
func (p *Provider) Remove(ctx context.Context, mediaIDs []string) error {
	var errs error
	for _, id := range mediaIDs {
		if err := p.call(ctx, http.MethodDelete, "/medias/"+id, nil, nil, http.StatusNoContent, http.StatusOK, http.StatusNotFound); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete media %s: %w", id, err))
		}
	}
	return errs
}

func (p *Provider) call(ctx context.Context, method, endpoint string, in, out any, accept ...int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.base.JoinPath(endpoint).String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	accepted := false
	for _, code := range accept {
		if resp.StatusCode == code {
			accepted = true
			break
		}
	}
	if !accepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
