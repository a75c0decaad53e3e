// Package objectstore implements a Provider backed by S3-compatible object
// storage.
package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mediapub/internal/failure"
	"mediapub/internal/logging"
	"mediapub/internal/platform"
	"mediapub/internal/store"
)

// Type is the configuration type name.
const Type = "objectstore"

const (
	titleKey          = "Title"
	defaultPresignTTL = 24 * time.Hour
	maxPresignTTL     = 7 * 24 * time.Hour
)

// Settings configures the provider.
type Settings struct {
	Endpoint          string `toml:"endpoint" validate:"required"`
	Region            string `toml:"region"`
	AccessKey         string `toml:"access_key" validate:"required"`
	SecretKey         string `toml:"secret_key" validate:"required"`
	Bucket            string `toml:"bucket" validate:"required"`
	Prefix            string `toml:"prefix"`
	UseSSL            bool   `toml:"use_ssl"`
	PublicURL         string `toml:"public_url" validate:"omitempty,url"`
	PresignTTLSeconds int    `toml:"presign_ttl_seconds" validate:"min=0"`
}

type objectAPI interface {
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, params url.Values) (*url.URL, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
}

// Provider stores each media as one object.
type Provider struct {
	api        objectAPI
	bucket     string
	prefix     string
	publicURL  *url.URL
	presignTTL time.Duration
	logger     *zap.Logger
}

// Register adds the objectstore type (and its s3 alias) to reg.
func Register(reg *platform.Registry) {
	ctor := func(settings platform.Settings, deps platform.Deps) (platform.Provider, error) {
		var cfg Settings
		if err := settings.Decode(&cfg); err != nil {
			return nil, err
		}
		return New(cfg, deps.Logger)
	}
	reg.Register(Type, ctor)
	reg.Register("s3", ctor)
}

// New constructs a provider with a minio client.
func New(cfg Settings, logger *zap.Logger) (*Provider, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	return newWithAPI(cfg, client, logger)
}

func newWithAPI(cfg Settings, api objectAPI, logger *zap.Logger) (*Provider, error) {
	var public *url.URL
	if cfg.PublicURL != "" {
		parsed, err := url.Parse(strings.TrimRight(cfg.PublicURL, "/"))
		if err != nil {
			return nil, fmt.Errorf("parse public_url: %w", err)
		}
		public = parsed
	}
	ttl := time.Duration(cfg.PresignTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	if ttl > maxPresignTTL {
		ttl = maxPresignTTL
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Provider{
		api:        api,
		bucket:     cfg.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		publicURL:  public,
		presignTTL: ttl,
		logger:     logging.Component(logger, "platform.objectstore"),
	}, nil
}

func (p *Provider) key(id string) string {
	if p.prefix == "" {
		return id
	}
	return path.Join(p.prefix, id)
}

// Upload puts the file under <prefix>/<uuid><ext>.
func (p *Provider) Upload(ctx context.Context, filePath string) (string, error) {
	id := uuid.NewString() + strings.ToLower(filepath.Ext(filePath))
	contentType := "application/octet-stream"
	if detected, err := mimetype.DetectFile(filePath); err == nil {
		contentType = detected.String()
	}
	info, err := p.api.FPutObject(ctx, p.bucket, p.key(id), filePath, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{titleKey: strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))},
	})
	if err != nil {
		return "", failure.Wrap(failure.KindPlatform, failure.CodeMediaUpload, "put object", err)
	}
	p.logger.Debug("object stored", zap.String("media_id", id), zap.Int64("bytes", info.Size))
	return id, nil
}

// GetInfo stats every object and returns public or presigned URLs.
func (p *Provider) GetInfo(ctx context.Context, mediaIDs []string, heights []int) (platform.Info, error) {
	var sources store.Sources
	for i, id := range mediaIDs {
		obj, err := p.api.StatObject(ctx, p.bucket, p.key(id), minio.StatObjectOptions{})
		if err != nil {
			if minio.ToErrorResponse(err).Code == "NoSuchKey" {
				return platform.Info{Available: false}, nil
			}
			return platform.Info{}, failure.Wrap(failure.KindPlatform, failure.CodeMediaConfigure, "stat object "+id, err)
		}
		link, err := p.link(ctx, id)
		if err != nil {
			return platform.Info{}, failure.Wrap(failure.KindPlatform, failure.CodeMediaConfigure, "link object "+id, err)
		}
		height := 0
		if i < len(heights) {
			height = heights[i]
		}
		sources.Files = append(sources.Files, store.Source{
			URL:      link,
			MimeType: obj.ContentType,
			Height:   height,
			MediaID:  id,
		})
	}
	return platform.Info{Available: true, Sources: sources}, nil
}

func (p *Provider) link(ctx context.Context, id string) (string, error) {
	if p.publicURL != nil {
		return p.publicURL.JoinPath(p.key(id)).String(), nil
	}
	u, err := p.api.PresignedGetObject(ctx, p.bucket, p.key(id), p.presignTTL, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Update rewrites the title metadata by copying each object onto itself.
func (p *Provider) Update(ctx context.Context, media platform.Media, data platform.UpdateData, force bool) error {
	if strings.TrimSpace(data.Title) == "" {
		return nil
	}
	var errs error
	for _, id := range media.IDs {
		key := p.key(id)
		if !force {
			obj, err := p.api.StatObject(ctx, p.bucket, key, minio.StatObjectOptions{})
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("stat object %s: %w", id, err))
				continue
			}
			if currentTitle(obj) == data.Title {
				continue
			}
		}
		_, err := p.api.CopyObject(ctx,
			minio.CopyDestOptions{
				Bucket:          p.bucket,
				Object:          key,
				UserMetadata:    map[string]string{titleKey: data.Title},
				ReplaceMetadata: true,
			},
			minio.CopySrcOptions{Bucket: p.bucket, Object: key},
		)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("update object %s: %w", id, err))
		}
	}
	if errs != nil {
		return failure.Wrap(failure.KindPlatform, failure.CodeMediaConfigure, "update media", errs)
	}
	return nil
}

func currentTitle(obj minio.ObjectInfo) string {
	for k, v := range obj.UserMetadata {
		if strings.EqualFold(k, titleKey) || strings.EqualFold(k, "X-Amz-Meta-"+titleKey) {
			return v
		}
	}
	return ""
}

// Remove deletes each object, attempting all of them.
func (p *Provider) Remove(ctx context.Context, mediaIDs []string) error {
	var errs error
	for _, id := range mediaIDs {
		if err := p.api.RemoveObject(ctx, p.bucket, p.key(id), minio.RemoveObjectOptions{}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("remove object %s: %w", id, err))
		}
	}
	return errs
}
