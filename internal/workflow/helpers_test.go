package workflow_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mediapub/internal/config"
	"mediapub/internal/media/ffprobe"
	"mediapub/internal/notifications"
	"mediapub/internal/platform"
	"mediapub/internal/platform/platformtest"
	"mediapub/internal/store"
	"mediapub/internal/testsupport"
	"mediapub/internal/workflow"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) Close() error { return nil }

func (r *recordingNotifier) Events() []notifications.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Event(nil), r.events...)
}

type fakeToolkit struct {
	mu          sync.Mutex
	height      int
	duration    float64
	defragments []string
	thumbs      []string
}

func (f *fakeToolkit) Thumbnail(_ context.Context, src, dst string, _ float64) error {
	f.mu.Lock()
	f.thumbs = append(f.thumbs, filepath.Base(src))
	f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, pngBytes(nil, color.White), 0o644)
}

func (f *fakeToolkit) Defragment(_ context.Context, src string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defragments = append(f.defragments, filepath.Base(src))
	return nil
}

func (f *fakeToolkit) Probe(context.Context, string) (ffprobe.Result, error) {
	return ffprobe.Result{
		Streams: []ffprobe.Stream{{CodecType: "video", Height: f.height, Width: f.height * 16 / 9}},
		Format:  ffprobe.Format{Duration: "12.5", FormatName: "mov,mp4,m4a,3gp,3g2,mj2"},
	}, nil
}

type harness struct {
	cfg      *config.Config
	store    *store.Store
	fake     *platformtest.Fake
	tools    *fakeToolkit
	notifier *recordingNotifier
	mgr      *workflow.Manager
	hot      string
}

func newHarness(t *testing.T, hotPlatform string, mutate func(*config.Config), setup func(*platformtest.Fake)) *harness {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithHotFolder("hot", hotPlatform))
	cfg.Pipeline.Merge = false
	if mutate != nil {
		mutate(cfg)
	}
	st := testsupport.MustOpenStore(t, cfg)
	fake := &platformtest.Fake{}
	if setup != nil {
		setup(fake)
	}
	registry := platform.NewRegistry()
	registry.Set("fake", "fake", fake)

	h := &harness{
		cfg:      cfg,
		store:    st,
		fake:     fake,
		tools:    &fakeToolkit{height: 1080},
		notifier: &recordingNotifier{},
		hot:      cfg.Watcher.HotFolders[0].Path,
	}
	h.mgr = workflow.NewManager(cfg, st, registry,
		workflow.WithToolkit(h.tools),
		workflow.WithNotifier(h.notifier),
		workflow.WithPollIntervals(5*time.Millisecond, 5*time.Millisecond),
	)
	if err := h.mgr.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	t.Cleanup(h.mgr.Stop)
	return h
}

func (h *harness) submit(t *testing.T, path string) *store.Package {
	t.Helper()
	pkg, err := h.mgr.Submit(context.Background(), path, workflow.SubmitOptions{})
	if err != nil {
		t.Fatalf("submit %s: %v", path, err)
	}
	return pkg
}

// waitFor polls the package until it reaches one of the resting states and
// no driver is active for it.
func (h *harness) waitFor(t *testing.T, id string, want ...store.State) *store.Package {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var last *store.Package
	for time.Now().Before(deadline) {
		pkg, err := h.store.Get(context.Background(), id)
		if err == nil {
			last = pkg
			for _, s := range want {
				if pkg.State == s {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					_ = h.mgr.WaitIdle(ctx)
					cancel()
					pkg, err = h.store.Get(context.Background(), id)
					if err != nil {
						t.Fatalf("reload %s: %v", id, err)
					}
					return pkg
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if last != nil {
		t.Fatalf("package %s stuck in %s (last transition %q, error %s: %s)",
			id, last.State, last.LastTransition, last.ErrorCode, last.ErrorMessage)
	}
	t.Fatalf("package %s never loaded", id)
	return nil
}

func pngBytes(t *testing.T, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 32, 18))
	for x := 0; x < 32; x++ {
		for y := 0; y < 18; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil && t != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func mp4Bytes(size int) []byte {
	data := make([]byte, size)
	copy(data, testsupport.MP4Header)
	return data
}

// writeArchive writes a v2 archive package with one video and two
// timecode images listed out of order.
func writeArchive(t *testing.T, path, title string) {
	t.Helper()
	manifest, err := json.Marshal(map[string]any{
		"title":  title,
		"medias": []map[string]any{{"file": "video.mp4", "height": 720}},
		"timecodes": []map[string]any{
			{"timecode": 4.5, "image": "images/late.png"},
			{"timecode": 1.0, "image": "images/early.png"},
		},
	})
	if err != nil {
		t.Fatalf("encode manifest: %v", err)
	}
	testsupport.WriteTarGz(t, path, map[string][]byte{
		"metadata.json":    manifest,
		"video.mp4":        mp4Bytes(4096),
		"images/late.png":  pngBytes(t, color.RGBA{R: 200, A: 255}),
		"images/early.png": pngBytes(t, color.RGBA{B: 200, A: 255}),
	})
}

// writeArchiveImages writes an archive whose timecodes reference the given
// image paths, one second apart.
func writeArchiveImages(t *testing.T, path string, images ...string) {
	t.Helper()
	timecodes := make([]map[string]any, 0, len(images))
	files := map[string][]byte{"video.mp4": mp4Bytes(4096)}
	for i, name := range images {
		timecodes = append(timecodes, map[string]any{"timecode": float64(i), "image": name})
		files[name] = pngBytes(t, color.RGBA{R: uint8(40 * (i + 1)), A: 255})
	}
	manifest, err := json.Marshal(map[string]any{
		"title":     "Slides",
		"medias":    []map[string]any{{"file": "video.mp4", "height": 720}},
		"timecodes": timecodes,
	})
	if err != nil {
		t.Fatalf("encode manifest: %v", err)
	}
	files["metadata.json"] = manifest
	testsupport.WriteTarGz(t, path, files)
}
