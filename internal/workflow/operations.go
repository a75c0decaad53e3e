package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mediapub/internal/failure"
	"mediapub/internal/logging"
	"mediapub/internal/notifications"
	"mediapub/internal/packagetype"
	"mediapub/internal/store"
)

// SubmitOptions carries the ingestion context of a new package.
type SubmitOptions struct {
	// HotFolder is the watched directory the file was found in.
	HotFolder string
	// Platform overrides the hot folder's platform.
	Platform string
	Group    string
	Uploader string
}

// ErrAlreadySubmitted is returned by Submit when a package already exists
// for the same unchanged file.
var ErrAlreadySubmitted = errors.New("file already submitted")

// Submit records a PENDING package for path and starts driving it. A file
// whose path, size and modification time match an existing package is not
// submitted again; the existing package is returned with
// ErrAlreadySubmitted.
func (m *Manager) Submit(ctx context.Context, path string, opts SubmitOptions) (*store.Package, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve package path: %w", err)
	}
	variant, err := packagetype.VariantFor(abs)
	if err != nil {
		return nil, failure.Wrap(failure.KindValidation, failure.CodeValidation, "submit package", err)
	}
	size, modTime, statErr := sourceStamp(abs)
	if statErr == nil {
		existing, err := m.findSubmitted(ctx, abs, size, modTime)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, fmt.Errorf("%w: %s is package %s", ErrAlreadySubmitted, abs, existing.ID)
		}
	}

	platformName := strings.TrimSpace(opts.Platform)
	group := strings.TrimSpace(opts.Group)
	hotFolder := strings.TrimSpace(opts.HotFolder)
	if folder, ok := m.cfg.HotFolderFor(abs); ok {
		if platformName == "" {
			platformName = folder.Platform
		}
		if group == "" {
			group = folder.Group
		}
		if hotFolder == "" {
			hotFolder = folder.Path
		}
	}
	uploader := strings.TrimSpace(opts.Uploader)
	if uploader == "" {
		uploader = m.cfg.Supervisor.AnonymousUser
	}

	pkg := &store.Package{
		Name:         packagetype.LogicalName(abs),
		OriginalPath: abs,
		PackageType:  variant,
		Platform:     platformName,
		State:        store.StatePending,
		LastState:    store.StatePending,
	}
	pkg.SetMeta(store.MetaUploader, uploader)
	if group != "" {
		pkg.SetMeta(store.MetaGroup, group)
	}
	if hotFolder != "" {
		pkg.SetMeta(store.MetaHotFolder, hotFolder)
	}
	if statErr == nil {
		pkg.SetMeta(store.MetaSourceSize, float64(size))
		pkg.SetMeta(store.MetaSourceModTime, modTime)
	}
	if err := m.store.Create(ctx, pkg); err != nil {
		return nil, fmt.Errorf("create package: %w", err)
	}
	m.logger.Info("package submitted",
		zap.String(logging.FieldPackageID, pkg.ID),
		zap.String(logging.FieldPath, abs),
		zap.String(logging.FieldPlatform, platformName),
	)
	if _, err := m.schedule(pkg.ID); err != nil {
		return pkg, err
	}
	return pkg, nil
}

// sourceStamp identifies a file version by size and modification time.
func sourceStamp(path string) (int64, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, "", err
	}
	return info.Size(), info.ModTime().UTC().Format(time.RFC3339Nano), nil
}

func sourceKey(path string, size int64, modTime string) string {
	return fmt.Sprintf("%s|%d|%s", path, size, modTime)
}

// sourceKeys lists the file versions pkg was built from, including those of
// packages merged into it.
func sourceKeys(pkg *store.Package) []string {
	keys := pkg.MetaStrings(store.MetaMergedSources)
	if size, ok := pkg.MetaFloat(store.MetaSourceSize); ok {
		keys = append(keys, sourceKey(pkg.OriginalPath, int64(size), pkg.MetaString(store.MetaSourceModTime)))
	}
	return keys
}

func (m *Manager) findSubmitted(ctx context.Context, path string, size int64, modTime string) (*store.Package, error) {
	pkgs, err := m.store.GetAll(ctx, store.Query{Where: store.Or(
		store.Equal(store.FieldOriginalPath, path),
		store.Equal(store.FieldName, packagetype.LogicalName(path)),
	)})
	if err != nil {
		return nil, fmt.Errorf("look up earlier submissions: %w", err)
	}
	want := sourceKey(path, size, modTime)
	for _, pkg := range pkgs {
		if slices.Contains(sourceKeys(pkg), want) {
			return pkg, nil
		}
	}
	return nil, nil
}

// Retry re-enters failed or interrupted packages at the successor of their
// last completed transition. Packages at rest and packages already being
// driven are skipped. It returns the ids that were scheduled.
func (m *Manager) Retry(ctx context.Context, ids ...string) ([]string, error) {
	var scheduled []string
	var errs error
	for _, id := range ids {
		pkg, err := m.lookup(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if pkg.State.Available() {
			continue
		}
		started, err := m.schedule(pkg.ID)
		if err != nil {
			return scheduled, multierr.Append(errs, err)
		}
		if started {
			scheduled = append(scheduled, pkg.ID)
		}
	}
	return scheduled, errs
}

// Upload assigns platformName to packages and schedules their upload. An
// empty name selects the default platform. Packages already at rest with
// media are uploaded again from scratch.
func (m *Manager) Upload(ctx context.Context, ids []string, platformName string) ([]string, error) {
	platformName = strings.TrimSpace(platformName)
	if platformName == "" {
		platformName = m.defaultPlatform(ctx)
	}
	if platformName == "" {
		return nil, failure.New(failure.KindConfig, failure.CodeInvalidConfiguration, "no upload platform given and no default configured")
	}
	if !m.registry.Has(platformName) {
		return nil, failure.Newf(failure.KindConfig, failure.CodeInvalidConfiguration, "platform %q is not configured", platformName)
	}

	var scheduled []string
	var errs error
	for _, id := range ids {
		pkg, err := m.lookup(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if m.isActive(pkg.ID) {
			errs = multierr.Append(errs, failure.Newf(failure.KindPackage, failure.CodeTransition, "package %s is busy", pkg.ID))
			continue
		}
		switch {
		case pkg.State == store.StateWaitingForUpload:
		case pkg.State == store.StateError && pkg.ErrorCode == failure.CodeMediaUpload:
		case pkg.State.Available():
			pkg.SetMeta(store.MetaPublish, pkg.State == store.StatePublished)
			pkg.MediaIDs = nil
			pkg.MediasHeights = nil
			pkg.Sources = store.Sources{}
			pkg.State = store.StateWaitingForUpload
			pkg.LastState = store.StatePreparing
			pkg.LastTransition = TransitionPrepare
		default:
			errs = multierr.Append(errs, failure.Newf(failure.KindPackage, failure.CodeTransition,
				"package %s cannot be uploaded from state %s", pkg.ID, pkg.State))
			continue
		}
		pkg.Platform = platformName
		if err := m.store.Update(ctx, pkg); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		started, err := m.schedule(pkg.ID)
		if err != nil {
			return scheduled, multierr.Append(errs, err)
		}
		if started {
			scheduled = append(scheduled, pkg.ID)
		}
	}
	return scheduled, errs
}

// Publish moves a READY package to PUBLISHED.
func (m *Manager) Publish(ctx context.Context, id string) (*store.Package, error) {
	return m.setPublished(ctx, id, true)
}

// Unpublish moves a PUBLISHED package back to READY.
func (m *Manager) Unpublish(ctx context.Context, id string) (*store.Package, error) {
	return m.setPublished(ctx, id, false)
}

func (m *Manager) setPublished(ctx context.Context, id string, publish bool) (*store.Package, error) {
	from, to, event := store.StateReady, store.StatePublished, notifications.EventPackagePublished
	if !publish {
		from, to, event = store.StatePublished, store.StateReady, notifications.EventPackageUnpublished
	}
	pkg, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if pkg.State == to {
		return pkg, nil
	}
	if pkg.State != from {
		return nil, failure.Newf(failure.KindPackage, failure.CodeTransition,
			"package %s is %s, expected %s", pkg.ID, pkg.State, from)
	}
	pkg.State = to
	if err := m.store.Update(ctx, pkg); err != nil {
		return nil, err
	}
	m.refreshCounts(ctx)
	m.notify(ctx, event, pkg, nil)
	return pkg, nil
}

// Remove deletes a package: its remote media, public and working
// directories, and its record. Every step is attempted and failures are
// aggregated. A merge target locked by the package is released.
func (m *Manager) Remove(ctx context.Context, id string) error {
	pkg, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	if m.isActive(pkg.ID) {
		return failure.Newf(failure.KindPackage, failure.CodeTransition, "package %s is busy", pkg.ID)
	}
	if m.lockedByMerge(pkg) {
		return failure.Newf(failure.KindPackage, failure.CodeTransition, "package %s is locked by a merge", pkg.ID)
	}
	logger := m.logger.With(zap.String(logging.FieldPackageID, pkg.ID))

	var errs error
	if len(pkg.MediaIDs) > 0 && pkg.Platform != "" {
		provider, err := m.registry.Get(pkg.Platform)
		if err == nil {
			err = provider.Remove(ctx, pkg.MediaIDs)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("remove remote media: %w", err))
		}
	}
	if target := pkg.MetaString(store.MetaMergeWith); target != "" {
		errs = multierr.Append(errs, m.releaseMergeTarget(ctx, pkg, target))
	}
	for _, dir := range []string{m.layout.publicDir(pkg.ID), m.layout.workDir(pkg.ID)} {
		if err := os.RemoveAll(dir); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("remove %s: %w", dir, err))
		}
	}
	if err := m.store.Remove(ctx, pkg.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		logger.Warn("package removal incomplete", zap.Error(errs))
		return errs
	}
	logger.Info("package removed")
	m.refreshCounts(ctx)
	m.notify(ctx, notifications.EventPackageRemoved, pkg, nil)
	return nil
}

// releaseMergeTarget restores a target still flagged MERGING to the state
// it had before the handshake.
func (m *Manager) releaseMergeTarget(ctx context.Context, pkg *store.Package, target string) error {
	candidate, err := m.store.Get(ctx, target)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if candidate.State != store.StateMerging {
		return nil
	}
	previous := store.StateReady
	if v, ok := pkg.MetaInt(store.MetaMergePrevious); ok && store.State(v).Available() {
		previous = store.State(v)
	}
	return m.store.SetState(ctx, target, previous)
}

// Resume schedules every package left in a processing state, typically by
// a crash. Transitions are at-least-once: the interrupted one runs again.
func (m *Manager) Resume(ctx context.Context) ([]string, error) {
	var states []store.State
	for _, s := range store.AllStates() {
		if !s.Finished() {
			states = append(states, s)
		}
	}
	pkgs, err := m.store.GetAll(ctx, store.Query{Where: store.In(store.FieldState, states...), SortBy: store.FieldCreatedAt})
	if err != nil {
		return nil, fmt.Errorf("list interrupted packages: %w", err)
	}
	var scheduled []string
	for _, pkg := range pkgs {
		if m.lockedByMerge(pkg) {
			continue
		}
		started, err := m.schedule(pkg.ID)
		if err != nil {
			return scheduled, err
		}
		if started {
			scheduled = append(scheduled, pkg.ID)
		}
	}
	if len(scheduled) > 0 {
		m.logger.Info("resumed interrupted packages", zap.Int("count", len(scheduled)))
	}
	return scheduled, nil
}

func (m *Manager) lookup(ctx context.Context, id string) (*store.Package, error) {
	pkg, err := m.store.Get(ctx, strings.TrimSpace(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, failure.Wrap(failure.KindPackage, failure.CodePackageNotFound, "package "+id, err)
	}
	return pkg, err
}
