package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"mediapub/internal/failure"
	"mediapub/internal/fileutil"
	"mediapub/internal/store"
)

// initMerge looks for an older package with the same logical name whose
// media can be absorbed. The lock is advisory: both packages are flagged
// MERGING through their persisted state and the flags are re-read to detect
// a concurrent handshake. Packages only wait on older same-name packages,
// which keeps two newcomers from waiting on each other.
func (t *task) initMerge(ctx context.Context) error {
	limit := t.m.cfg.Pipeline.MergeWaitAttempts
	if limit <= 0 {
		limit = 1
	}
	if id := t.pkg.MetaString(store.MetaMergeWith); id != "" {
		if target, err := t.m.store.Get(ctx, id); err == nil && target.State == store.StateMerging {
			t.pkg.State = store.StateMerging
			return nil
		}
		t.pkg.SetMeta(store.MetaMergeWith, nil)
		t.pkg.SetMeta(store.MetaMergePrevious, nil)
	}

	var waits, lockTries int
	for {
		older, others, err := t.sameName(ctx)
		if err != nil {
			return err
		}
		if pending := inFlight(older); len(pending) > 0 {
			waits++
			if waits >= limit {
				return failure.Newf(failure.KindMerge, failure.CodeInitMergeWaitForMedia,
					"same-name packages still processing: %s", strings.Join(pending, ", "))
			}
			t.logger.Debug("waiting for same-name packages", zap.Strings("packages", pending))
			if err := sleep(ctx, t.m.mergeInterval); err != nil {
				return err
			}
			continue
		}

		candidate := pickCandidate(others)
		if candidate == nil {
			return nil
		}
		locked, err := t.tryLock(ctx, candidate)
		if err != nil {
			return err
		}
		if locked {
			t.logger.Info("merge target locked", zap.String("merge_with", candidate.ID))
			return nil
		}
		lockTries++
		if lockTries >= limit {
			return failure.Newf(failure.KindMerge, failure.CodeInitMergeLockPackage,
				"could not lock %s for merging", candidate.ID)
		}
		if err := sleep(ctx, t.m.mergeInterval); err != nil {
			return err
		}
	}
}

// sameName returns the packages sharing the logical name, excluding self,
// both the subset created before self and the full set, oldest first.
func (t *task) sameName(ctx context.Context) (older, others []*store.Package, err error) {
	all, err := t.m.store.FindByName(ctx, t.pkg.Name)
	if err != nil {
		return nil, nil, failure.Wrap(failure.KindMerge, failure.CodeInitMergeGetPackagesWithSameName,
			"find same-name packages", err)
	}
	seenSelf := false
	for _, p := range all {
		if p.ID == t.pkg.ID {
			seenSelf = true
			continue
		}
		if !seenSelf {
			older = append(older, p)
		}
		others = append(others, p)
	}
	return older, others, nil
}

func inFlight(pkgs []*store.Package) []string {
	var ids []string
	for _, p := range pkgs {
		if !p.State.Finished() {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// pickCandidate returns the oldest package at rest that owns remote media.
func pickCandidate(pkgs []*store.Package) *store.Package {
	for _, p := range pkgs {
		if p.State.Available() && len(p.MediaIDs) > 0 {
			return p
		}
	}
	return nil
}

// tryLock flags self MERGING, re-reads the same-name set and, if no other
// handshake is in progress and the candidate is still at rest, flags the
// candidate. On conflict self is reverted and false is returned.
func (t *task) tryLock(ctx context.Context, candidate *store.Package) (bool, error) {
	previous := t.pkg.State
	lockErr := func(msg string, err error) error {
		return failure.Wrap(failure.KindMerge, failure.CodeInitMergeLockPackage, msg, err)
	}
	if err := t.m.store.SetState(ctx, t.pkg.ID, store.StateMerging); err != nil {
		return false, lockErr("flag package", err)
	}
	t.pkg.State = store.StateMerging

	revert := func() error {
		t.pkg.State = previous
		if err := t.m.store.SetState(ctx, t.pkg.ID, previous); err != nil {
			return lockErr("revert package", err)
		}
		return nil
	}

	_, others, err := t.sameName(ctx)
	if err != nil {
		if rerr := revert(); rerr != nil {
			t.logger.Warn("revert merge flag", zap.Error(rerr))
		}
		return false, err
	}
	conflict := true
	for _, p := range others {
		if p.ID == candidate.ID {
			conflict = !p.State.Available()
			candidate = p
			break
		}
	}
	for _, p := range others {
		if p.ID != candidate.ID && p.State == store.StateMerging {
			conflict = true
		}
	}
	if conflict {
		t.logger.Debug("merge handshake conflict; backing off", zap.String("candidate", candidate.ID))
		return false, revert()
	}

	// The target is recorded before it is flagged so a crash in between
	// leaves a reference to every flagged package.
	t.pkg.SetMeta(store.MetaMergeWith, candidate.ID)
	t.pkg.SetMeta(store.MetaMergePrevious, int(candidate.State))
	if err := t.m.store.Update(ctx, t.pkg); err != nil {
		return false, lockErr("record merge target", err)
	}
	if err := t.m.store.SetState(ctx, candidate.ID, store.StateMerging); err != nil {
		t.pkg.SetMeta(store.MetaMergeWith, nil)
		t.pkg.SetMeta(store.MetaMergePrevious, nil)
		t.pkg.State = previous
		if uerr := t.m.store.Update(ctx, t.pkg); uerr != nil {
			t.logger.Warn("revert merge flag", zap.Error(uerr))
		}
		return false, lockErr("flag merge target", err)
	}
	return true, nil
}

func (t *task) mergeTarget(ctx context.Context, code failure.Code) (*store.Package, error) {
	id := t.pkg.MetaString(store.MetaMergeWith)
	candidate, err := t.m.store.Get(ctx, id)
	if err != nil {
		return nil, failure.Wrap(failure.KindMerge, code, "load merge target", err)
	}
	return candidate, nil
}

// merge absorbs the target's media, sources and timecodes. Entries already
// present are skipped so the step can run again.
func (t *task) merge(ctx context.Context) error {
	candidate, err := t.mergeTarget(ctx, failure.CodeMerge)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(candidate.MediaIDs)+len(t.pkg.MediaIDs))
	heights := make([]int, 0, cap(ids))
	seen := make(map[string]struct{})
	add := func(src *store.Package) {
		for i, id := range src.MediaIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
			h := 0
			if i < len(src.MediasHeights) {
				h = src.MediasHeights[i]
			}
			heights = append(heights, h)
		}
	}
	add(candidate)
	add(t.pkg)
	t.pkg.MediaIDs = ids
	t.pkg.MediasHeights = heights

	t.pkg.Sources.Adaptive = mergeSources(candidate.Sources.Adaptive, t.pkg.Sources.Adaptive)
	t.pkg.Sources.Files = mergeSources(candidate.Sources.Files, t.pkg.Sources.Files)
	t.pkg.Timecodes = mergeTimecodes(candidate.Timecodes, t.pkg.Timecodes)

	prefix := mergedDir + "/" + candidate.ID + "/"
	own := t.pkg.MetaStrings(store.MetaMediaFiles)
	files := make([]string, 0, len(own)+len(candidate.MetaStrings(store.MetaMediaFiles)))
	known := make(map[string]struct{})
	for _, f := range own {
		known[f] = struct{}{}
	}
	for _, f := range candidate.MetaStrings(store.MetaMediaFiles) {
		rel := prefix + f
		if _, ok := known[rel]; !ok {
			files = append(files, rel)
		}
	}
	files = append(files, own...)
	t.pkg.SetMeta(store.MetaMediaFiles, files)

	absorbed := t.pkg.MetaStrings(store.MetaMergedSources)
	for _, key := range sourceKeys(candidate) {
		if !slices.Contains(absorbed, key) {
			absorbed = append(absorbed, key)
		}
	}
	if len(absorbed) > 0 {
		t.pkg.SetMeta(store.MetaMergedSources, absorbed)
	}
	return nil
}

func mergeSources(first, second []store.Source) []store.Source {
	out := make([]store.Source, 0, len(first)+len(second))
	seen := make(map[string]struct{})
	for _, list := range [][]store.Source{first, second} {
		for _, s := range list {
			if _, dup := seen[s.URL]; dup {
				continue
			}
			seen[s.URL] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func mergeTimecodes(first, second []store.Timecode) []store.Timecode {
	type key struct {
		at    float64
		image string
	}
	out := make([]store.Timecode, 0, len(first)+len(second))
	seen := make(map[key]struct{})
	for _, list := range [][]store.Timecode{first, second} {
		for _, tc := range list {
			k := key{tc.Timecode, tc.Image}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, tc)
		}
	}
	return out
}

// finalizeMerge brings the target's local assets under self and inherits
// its published flag.
func (t *task) finalizeMerge(ctx context.Context) error {
	candidate, err := t.mergeTarget(ctx, failure.CodeFinalizeMerge)
	if err != nil {
		return err
	}
	wrap := func(msg string, err error) error {
		return failure.Wrap(failure.KindMerge, failure.CodeFinalizeMerge, msg, err)
	}

	srcImages := t.m.layout.publicPath(candidate.ID, imagesDir)
	if err := copyTree(ctx, srcImages, t.m.layout.publicPath(t.pkg.ID, imagesDir)); err != nil {
		return wrap("copy merged images", err)
	}

	for _, rel := range candidate.MetaStrings(store.MetaMediaFiles) {
		src := t.m.layout.mediaPath(candidate.ID, rel)
		dst := t.m.layout.mediaPath(t.pkg.ID, mergedDir+"/"+candidate.ID+"/"+rel)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			t.logger.Warn("merged media missing locally; re-upload will skip it", zap.String("media", rel))
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return wrap("create merged media directory", err)
		}
		if err := fileutil.MoveFile(ctx, src, dst); err != nil {
			return wrap("move merged media", err)
		}
	}

	if previous, ok := t.pkg.MetaInt(store.MetaMergePrevious); ok && store.State(previous) == store.StatePublished {
		t.pkg.SetMeta(store.MetaPublish, true)
	}
	return nil
}

// removePackage deletes the absorbed package. Its remote media now belong
// to self and are left untouched.
func (t *task) removePackage(ctx context.Context) error {
	id := t.pkg.MetaString(store.MetaMergeWith)
	if err := t.m.store.Remove(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return failure.Wrap(failure.KindMerge, failure.CodeRemovePackage, "remove merged package", err)
	}
	for _, dir := range []string{t.m.layout.publicDir(id), t.m.layout.workDir(id)} {
		if err := os.RemoveAll(dir); err != nil {
			return failure.Wrap(failure.KindMerge, failure.CodeRemovePackage, "remove merged package files", err)
		}
	}
	t.pkg.SetMeta(store.MetaMergeWith, nil)
	t.pkg.SetMeta(store.MetaMergePrevious, nil)
	t.logger.Info("merged package removed", zap.String("merged", id))
	return nil
}

// copyTree copies regular files under src into dst, keeping files that
// already exist at the destination. A missing src is not an error.
func copyTree(ctx context.Context, src, dst string) error {
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, err := os.Stat(target); err == nil {
			return nil
		}
		if _, err := fileutil.CopyFile(ctx, path, target); err != nil {
			return fmt.Errorf("copy %s: %w", rel, err)
		}
		return nil
	})
}
