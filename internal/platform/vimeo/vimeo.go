// Package vimeo implements a Provider for video platforms exposing the Vimeo
// style REST API with resumable (tus) uploads.
package vimeo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mediapub/internal/failure"
	"mediapub/internal/logging"
	"mediapub/internal/platform"
	"mediapub/internal/resumable"
	"mediapub/internal/store"
)

// Type is the configuration type name.
const Type = "vimeo"

const (
	defaultAPIURL = "https://api.vimeo.com"
	acceptHeader  = "application/vnd.vimeo.*+json;version=3.4"
	statusReady   = "available"

	cleanupTimeout = 30 * time.Second
)

// Settings configures the provider.
type Settings struct {
	APIURL      string  `toml:"api_url" validate:"omitempty,url"`
	AccessToken string  `toml:"access_token" validate:"required"`
	ChunkSize   int64   `toml:"chunk_size" validate:"min=0"`
	RateLimit   float64 `toml:"rate_limit" validate:"min=0"`
	MaxRetries  int     `toml:"max_retries" validate:"min=0,max=50"`
}

// Provider talks to the platform API and streams media with the resumable client.
type Provider struct {
	api      *url.URL
	token    string
	http     *http.Client
	uploader *resumable.Client
	logger   *zap.Logger
}

// Register adds the vimeo type to reg.
func Register(reg *platform.Registry) {
	reg.Register(Type, func(settings platform.Settings, deps platform.Deps) (platform.Provider, error) {
		var cfg Settings
		if err := settings.Decode(&cfg); err != nil {
			return nil, err
		}
		return New(cfg, deps.HTTPClient, deps.Logger)
	})
}

// New constructs a provider.
func New(cfg Settings, client *http.Client, logger *zap.Logger) (*Provider, error) {
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = defaultAPIURL
	}
	api, err := url.Parse(strings.TrimRight(cfg.APIURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api_url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.Component(logger, "platform.vimeo")
	opts := []resumable.Option{
		resumable.WithHTTPClient(client),
		resumable.WithChunkSize(cfg.ChunkSize),
		resumable.WithRateLimit(cfg.RateLimit),
		resumable.WithLogger(logger),
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, resumable.WithMaxRetries(uint(cfg.MaxRetries)))
	}
	return &Provider{
		api:      api,
		token:    cfg.AccessToken,
		http:     client,
		uploader: resumable.New(opts...),
		logger:   logger,
	}, nil
}

type createRequest struct {
	Name   string        `json:"name"`
	Upload uploadRequest `json:"upload"`
}

type uploadRequest struct {
	Approach string `json:"approach"`
	Size     int64  `json:"size"`
}

type video struct {
	URI    string `json:"uri"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Upload struct {
		UploadLink string `json:"upload_link"`
	} `json:"upload"`
	Files []struct {
		Quality string `json:"quality"`
		Type    string `json:"type"`
		Height  int    `json:"height"`
		Link    string `json:"link"`
	} `json:"files"`
	Play struct {
		HLS  *playLink `json:"hls"`
		DASH *playLink `json:"dash"`
	} `json:"play"`
}

type playLink struct {
	Link string `json:"link"`
}

// Upload creates the remote video and streams the file into it.
func (p *Provider) Upload(ctx context.Context, filePath string) (string, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return "", failure.Wrap(failure.KindPlatform, failure.CodeMediaUpload, "stat media", err)
	}
	var created video
	body := createRequest{
		Name:   strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath)),
		Upload: uploadRequest{Approach: "tus", Size: info.Size()},
	}
	if err := p.call(ctx, http.MethodPost, "/me/videos", body, &created, http.StatusCreated, http.StatusOK); err != nil {
		return "", failure.Wrap(failure.KindPlatform, failure.CodeMediaUpload, "create video", err)
	}
	id := path.Base(created.URI)
	if created.URI == "" || id == "/" || id == "." {
		return "", failure.New(failure.KindPlatform, failure.CodeMediaUpload, "create video: response has no uri")
	}
	if created.Upload.UploadLink == "" {
		p.discard(ctx, id)
		return "", failure.New(failure.KindPlatform, failure.CodeMediaUpload, "create video: response has no upload link")
	}

	logger := p.logger.With(zap.String("media_id", id))
	err = p.uploader.UploadFile(ctx, created.Upload.UploadLink, filePath, func(sent, total int64) {
		logger.Debug("upload progress", zap.Int64("sent", sent), zap.Int64("total", total))
	})
	if err != nil {
		p.discard(ctx, id)
		return "", failure.Wrap(failure.KindPlatform, failure.CodeMediaUpload, "stream media", err)
	}
	logger.Info("media uploaded", zap.Int64("bytes", info.Size()))
	return id, nil
}

// discard deletes a video whose upload did not complete so a retry starts
// from a clean remote state.
func (p *Provider) discard(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := p.Remove(ctx, []string{id}); err != nil {
		p.logger.Warn("discard incomplete video", zap.String("media_id", id), zap.Error(err))
	}
}

// GetInfo is available once every video finished transcoding and exposes a
// file for each requested height.
func (p *Provider) GetInfo(ctx context.Context, mediaIDs []string, heights []int) (platform.Info, error) {
	var sources store.Sources
	for i, id := range mediaIDs {
		var v video
		if err := p.call(ctx, http.MethodGet, "/videos/"+id, nil, &v, http.StatusOK); err != nil {
			return platform.Info{}, failure.Wrap(failure.KindPlatform, failure.CodeMediaConfigure, "fetch video "+id, err)
		}
		if v.Status != statusReady {
			return platform.Info{Available: false}, nil
		}
		want := 0
		if i < len(heights) {
			want = heights[i]
		}
		found := want == 0
		for _, f := range v.Files {
			if f.Link == "" {
				continue
			}
			if f.Height == want {
				found = true
			}
			sources.Files = append(sources.Files, store.Source{
				URL:      f.Link,
				MimeType: f.Type,
				Height:   f.Height,
				MediaID:  id,
			})
		}
		if !found {
			return platform.Info{Available: false}, nil
		}
		if v.Play.HLS != nil && v.Play.HLS.Link != "" {
			sources.Adaptive = append(sources.Adaptive, store.Source{
				URL: v.Play.HLS.Link, MimeType: "application/x-mpegURL", MediaID: id,
			})
		}
		if v.Play.DASH != nil && v.Play.DASH.Link != "" {
			sources.Adaptive = append(sources.Adaptive, store.Source{
				URL: v.Play.DASH.Link, MimeType: "application/dash+xml", MediaID: id,
			})
		}
	}
	return platform.Info{Available: true, Sources: sources}, nil
}

// Update renames each video when forced or when the remote title differs.
func (p *Provider) Update(ctx context.Context, media platform.Media, data platform.UpdateData, force bool) error {
	if strings.TrimSpace(data.Title) == "" {
		return nil
	}
	var errs error
	for _, id := range media.IDs {
		endpoint := "/videos/" + id
		if !force {
			var current video
			if err := p.call(ctx, http.MethodGet, endpoint, nil, &current, http.StatusOK); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("fetch video %s: %w", id, err))
				continue
			}
			if current.Name == data.Title {
				continue
			}
		}
		patch := map[string]string{"name": data.Title}
		if data.Description != "" {
			patch["description"] = data.Description
		}
		if err := p.call(ctx, http.MethodPatch, endpoint, patch, nil, http.StatusOK); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("update video %s: %w", id, err))
		}
	}
	if errs != nil {
		return failure.Wrap(failure.KindPlatform, failure.CodeMediaConfigure, "update media", errs)
	}
	return nil
}

// Remove deletes every video; already deleted videos are not an error.
func (p *Provider) Remove(ctx context.Context, mediaIDs []string) error {
	var errs error
	for _, id := range mediaIDs {
		err := p.call(ctx, http.MethodDelete, "/videos/"+id, nil, nil, http.StatusNoContent, http.StatusOK)
		var statusErr *resumable.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete video %s: %w", id, err))
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
	req, err := http.NewRequestWithContext(ctx, method, p.api.JoinPath(endpoint).String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "bearer "+p.token)
	req.Header.Set("Accept", acceptHeader)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	ok := false
	for _, code := range accept {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &resumable.StatusError{Method: method, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
