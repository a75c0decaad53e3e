package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"mediapub/internal/config"
	"mediapub/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewPackage inserts a pending package for path using the provided store.
func NewPackage(t testing.TB, st *store.Store, path string) *store.Package {
	t.Helper()

	base := filepath.Base(path)
	pkg := &store.Package{
		Name:         base[:len(base)-len(filepath.Ext(base))],
		OriginalPath: path,
		PackageType:  store.PackageTypeVideo,
	}
	if err := st.Create(context.Background(), pkg); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return pkg
}
