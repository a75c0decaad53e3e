package objectstore

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediapub/internal/platform"
	"mediapub/internal/testsupport"
)

type fakeObjects struct {
	mu       sync.Mutex
	objects  map[string]minio.ObjectInfo
	copies   int
	failKeys map[string]bool
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string]minio.ObjectInfo{}, failKeys: map[string]bool{}}
}

func (f *fakeObjects) FPutObject(_ context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, err := os.Stat(filePath)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[bucket+"/"+object] = minio.ObjectInfo{
		Key:          object,
		Size:         info.Size(),
		ContentType:  opts.ContentType,
		UserMetadata: opts.UserMetadata,
	}
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: info.Size()}, nil
}

func (f *fakeObjects) StatObject(_ context.Context, bucket, object string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[bucket+"/"+object]
	if !ok {
		return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	}
	return obj, nil
}

func (f *fakeObjects) RemoveObject(_ context.Context, bucket, object string, _ minio.RemoveObjectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKeys[object] {
		return errors.New("access denied")
	}
	delete(f.objects, bucket+"/"+object)
	return nil
}

func (f *fakeObjects) PresignedGetObject(_ context.Context, bucket, object string, expires time.Duration, _ url.Values) (*url.URL, error) {
	return url.Parse("https://s3.test/" + bucket + "/" + object + "?X-Amz-Expires=" + expires.String())
}

func (f *fakeObjects) CopyObject(_ context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies++
	obj := f.objects[src.Bucket+"/"+src.Object]
	if dst.ReplaceMetadata {
		obj.UserMetadata = dst.UserMetadata
	}
	f.objects[dst.Bucket+"/"+dst.Object] = obj
	return minio.UploadInfo{Bucket: dst.Bucket, Key: dst.Object}, nil
}

func TestObjectStoreLifecycle(t *testing.T) {
	api := newFakeObjects()
	p, err := newWithAPI(Settings{Bucket: "media", Prefix: "/vod/", PresignTTLSeconds: 3600}, api, nil)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "Trailer.mp4")
	testsupport.WriteMP4(t, src, 512)

	ctx := context.Background()
	id, err := p.Upload(ctx, src)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(id, ".mp4"))

	obj := api.objects["media/vod/"+id]
	assert.Equal(t, "video/mp4", obj.ContentType)
	assert.Equal(t, "Trailer", obj.UserMetadata[titleKey])

	info, err := p.GetInfo(ctx, []string{id}, []int{360})
	require.NoError(t, err)
	require.True(t, info.Available)
	assert.Equal(t, "https://s3.test/media/vod/"+id+"?X-Amz-Expires=1h0m0s", info.Sources.Files[0].URL)
	assert.Equal(t, 360, info.Sources.Files[0].Height)

	media := platform.Media{IDs: []string{id}}
	require.NoError(t, p.Update(ctx, media, platform.UpdateData{Title: "Trailer"}, false))
	assert.Equal(t, 0, api.copies)
	require.NoError(t, p.Update(ctx, media, platform.UpdateData{Title: "Final trailer"}, false))
	assert.Equal(t, 1, api.copies)
	assert.Equal(t, "Final trailer", api.objects["media/vod/"+id].UserMetadata[titleKey])

	require.NoError(t, p.Remove(ctx, []string{id}))
	assert.Empty(t, api.objects)
}

func TestGetInfoMissingObjectIsUnavailable(t *testing.T) {
	p, err := newWithAPI(Settings{Bucket: "media", PublicURL: "https://cdn.test/"}, newFakeObjects(), nil)
	require.NoError(t, err)
	info, err := p.GetInfo(context.Background(), []string{"nope.mp4"}, nil)
	require.NoError(t, err)
	assert.False(t, info.Available)
}

func TestPublicURLSources(t *testing.T) {
	api := newFakeObjects()
	api.objects["media/a.mp4"] = minio.ObjectInfo{Key: "a.mp4", ContentType: "video/mp4"}
	p, err := newWithAPI(Settings{Bucket: "media", PublicURL: "https://cdn.test/"}, api, nil)
	require.NoError(t, err)
	info, err := p.GetInfo(context.Background(), []string{"a.mp4"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/a.mp4", info.Sources.Files[0].URL)
}

func TestRemoveAggregatesFailures(t *testing.T) {
	api := newFakeObjects()
	api.failKeys["b.mp4"] = true
	api.failKeys["c.mp4"] = true
	p, err := newWithAPI(Settings{Bucket: "media"}, api, nil)
	require.NoError(t, err)
	err = p.Remove(context.Background(), []string{"a.mp4", "b.mp4", "c.mp4"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remove object b.mp4")
	assert.Contains(t, err.Error(), "remove object c.mp4")
}

func TestNewBuildsMinioClient(t *testing.T) {
	p, err := New(Settings{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "media"}, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultPresignTTL, p.presignTTL)
}
