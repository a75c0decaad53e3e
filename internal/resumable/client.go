package resumable

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// ProtocolVersion is sent in the Tus-Resumable header of every request.
	ProtocolVersion = "1.0.0"

	headerResumable = "Tus-Resumable"
	headerOffset    = "Upload-Offset"
	headerLength    = "Upload-Length"
	headerMetadata  = "Upload-Metadata"
	contentType     = "application/offset+octet-stream"

	defaultChunkSize  = 8 << 20
	defaultMaxRetries = 5
)

// ProgressFunc receives the confirmed server offset after each chunk.
type ProgressFunc func(sent, total int64)

// StatusError reports an unexpected HTTP response.
type StatusError struct {
	Method string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Method, e.Code, e.Body)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Method, e.Code)
}

// ErrOffsetConflict is returned when the server rejects a chunk offset.
var ErrOffsetConflict = errors.New("upload offset conflict")

// Client performs resumable uploads.
type Client struct {
	http       *http.Client
	chunkSize  int64
	maxRetries uint
	limiter    *rate.Limiter
	headers    http.Header
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithChunkSize sets the PATCH body size.
func WithChunkSize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithMaxRetries bounds retries per chunk.
func WithMaxRetries(n uint) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithRateLimit caps requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithHeader adds a header to every request, typically authorization.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// WithBackOff replaces the retry schedule factory.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(c *Client) {
		if factory != nil {
			c.newBackOff = factory
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New constructs a Client.
func New(opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 10 * time.Minute},
		chunkSize:  defaultChunkSize,
		maxRetries: defaultMaxRetries,
		headers:    make(http.Header),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			return b
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create registers a new upload of size bytes at endpoint and returns its URL.
func (c *Client) Create(ctx context.Context, endpoint string, size int64, metadata map[string]string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(headerLength, strconv.FormatInt(size, 10))
	if encoded := encodeMetadata(metadata); encoded != "" {
		req.Header.Set(headerMetadata, encoded)
	}
	resp, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusCreated {
		return "", statusError(http.MethodPost, resp)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", errors.New("create upload: response has no Location header")
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse location: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// Offset asks the server how many bytes of the upload it holds.
func (c *Client) Offset(ctx context.Context, uploadURL string) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodHead, uploadURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.do(req)
	if err != nil {
		return 0, fmt.Errorf("query offset: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return 0, statusError(http.MethodHead, resp)
	}
	return parseOffset(resp.Header.Get(headerOffset))
}

// UploadFile uploads the file at path to uploadURL.
func (c *Client) UploadFile(ctx context.Context, uploadURL, path string, progress ProgressFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat upload source: %w", err)
	}
	return c.Upload(ctx, uploadURL, f, info.Size(), progress)
}

// Upload sends size bytes from r starting at the server's current offset.
func (c *Client) Upload(ctx context.Context, uploadURL string, r io.ReaderAt, size int64, progress ProgressFunc) error {
	offset, err := c.Offset(ctx, uploadURL)
	if err != nil {
		return err
	}
	if offset > size {
		return fmt.Errorf("server offset %d exceeds upload size %d", offset, size)
	}
	if progress != nil {
		progress(offset, size)
	}

	for offset < size {
		start := offset
		next, err := backoff.Retry(ctx, func() (int64, error) {
			if start >= size {
				return start, nil
			}
			n, err := c.patch(ctx, uploadURL, r, start, size)
			if err == nil {
				return n, nil
			}
			if permanent(err) {
				return 0, backoff.Permanent(err)
			}
			c.logger.Debug("chunk upload failed, resynchronizing",
				zap.Int64("offset", start),
				zap.Error(err),
			)
			if server, herr := c.Offset(ctx, uploadURL); herr == nil {
				start = server
				if start >= size {
					return start, nil
				}
			} else if permanent(herr) {
				return 0, backoff.Permanent(herr)
			}
			return 0, err
		}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.maxRetries+1))
		if err != nil {
			return fmt.Errorf("upload chunk at offset %d: %w", start, err)
		}
		if next <= start && next < size {
			return fmt.Errorf("server did not advance past offset %d", start)
		}
		offset = next
		if progress != nil {
			progress(offset, size)
		}
	}
	return nil
}

func (c *Client) patch(ctx context.Context, uploadURL string, r io.ReaderAt, offset, size int64) (int64, error) {
	length := c.chunkSize
	if remaining := size - offset; remaining < length {
		length = remaining
	}
	body := io.NewSectionReader(r, offset, length)
	req, err := c.newRequest(ctx, http.MethodPatch, uploadURL, body)
	if err != nil {
		return 0, err
	}
	req.ContentLength = length
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(headerOffset, strconv.FormatInt(offset, 10))

	resp, err := c.do(req)
	if err != nil {
		return 0, err
	}
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusCreated:
	case http.StatusConflict:
		return 0, ErrOffsetConflict
	default:
		return 0, statusError(http.MethodPatch, resp)
	}
	header := resp.Header.Get(headerOffset)
	if header == "" {
		return offset + length, nil
	}
	return parseOffset(header)
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set(headerResumable, ProtocolVersion)
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return c.http.Do(req)
}

func permanent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 400 && statusErr.Code < 500 && statusErr.Code != http.StatusConflict &&
			statusErr.Code != http.StatusTooManyRequests && statusErr.Code != http.StatusRequestTimeout
	}
	return false
}

func statusError(method string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Method: method, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func parseOffset(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("response has no Upload-Offset header")
	}
	offset, err := strconv.ParseInt(value, 10, 64)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid Upload-Offset %q", value)
	}
	return offset, nil
}

func encodeMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+" "+base64.StdEncoding.EncodeToString([]byte(metadata[k])))
	}
	return strings.Join(pairs, ",")
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
