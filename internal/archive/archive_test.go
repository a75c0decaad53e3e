package archive_test

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"mediapub/internal/archive"
	"mediapub/internal/testsupport"
)

func TestDetect(t *testing.T) {
	cases := map[string]archive.Compression{
		"a.tar":     archive.CompressionNone,
		"a.TAR.GZ":  archive.CompressionGzip,
		"a.tgz":     archive.CompressionGzip,
		"a.tar.zst": archive.CompressionZstd,
	}
	for name, want := range cases {
		got, err := archive.Detect(name)
		if err != nil || got != want {
			t.Fatalf("Detect(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := archive.Detect("clip.mp4"); !errors.Is(err, archive.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestExtractGzipReplacesPreviousContent(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "pkg.tar.gz")
	testsupport.WriteTarGz(t, src, map[string][]byte{
		"metadata.json":   []byte(`{"title":"x"}`),
		"media/video.mp4": []byte("video"),
	})
	dst := filepath.Join(base, "out")
	if err := os.MkdirAll(dst, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dst, "stale.txt"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	files, err := archive.Extract(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("unexpected extracted files: %v", files)
	}
	if _, err := os.Stat(filepath.Join(dst, "stale.txt")); !os.IsNotExist(err) {
		t.Fatal("expected stale file to be removed")
	}
	data, err := os.ReadFile(filepath.Join(dst, "media", "video.mp4"))
	if err != nil || string(data) != "video" {
		t.Fatalf("unexpected media content %q err=%v", data, err)
	}
}

func TestExtractZstd(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "pkg.tar.zst")

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	body := []byte("hello")
	if err := tw.WriteHeader(&tar.Header{Name: "synchro.xml", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	compressed := enc.EncodeAll(tarBuf.Bytes(), nil)
	enc.Close()
	if err := os.WriteFile(src, compressed, 0o644); err != nil {
		t.Fatal(err)
	}

	files, err := archive.Extract(context.Background(), src, filepath.Join(base, "out"))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(files) != 1 || files[0] != "synchro.xml" {
		t.Fatalf("unexpected files: %v", files)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "evil.tgz")
	testsupport.WriteTarGz(t, src, map[string][]byte{"../escape.txt": []byte("x")})
	if _, err := archive.Extract(context.Background(), src, filepath.Join(base, "out")); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
	if _, err := os.Stat(filepath.Join(base, "escape.txt")); !os.IsNotExist(err) {
		t.Fatal("expected no file outside the extraction directory")
	}
}
