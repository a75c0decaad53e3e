package workflow_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"mediapub/internal/config"
	"mediapub/internal/failure"
	"mediapub/internal/notifications"
	"mediapub/internal/platform/platformtest"
	"mediapub/internal/store"
	"mediapub/internal/testsupport"
	"mediapub/internal/workflow"
)

func TestArchivePackageRunsFullPipeline(t *testing.T) {
	h := newHarness(t, "fake", nil, nil)
	src := filepath.Join(h.hot, "lecture.tar.gz")
	writeArchive(t, src, "Lecture One")

	pkg := h.waitFor(t, h.submit(t, src).ID, store.StateReady, store.StateError)
	if pkg.State != store.StateReady {
		t.Fatalf("expected READY, got %s (%s)", pkg.State, pkg.ErrorMessage)
	}
	if pkg.LastTransition != workflow.TransitionCleanDirectory {
		t.Fatalf("expected last transition cleanDirectory, got %q", pkg.LastTransition)
	}
	if pkg.Name != "Lecture One" || pkg.Platform != "fake" {
		t.Fatalf("unexpected name/platform %q/%q", pkg.Name, pkg.Platform)
	}
	if !slices.Equal(pkg.MediaIDs, []string{"media-1"}) || !slices.Equal(pkg.MediasHeights, []int{720}) {
		t.Fatalf("unexpected media %v %v", pkg.MediaIDs, pkg.MediasHeights)
	}
	if len(pkg.Sources.Files) != 1 || pkg.Sources.Files[0].MediaID != "media-1" {
		t.Fatalf("unexpected sources %+v", pkg.Sources)
	}
	if updates := h.fake.Updates(); len(updates) != 1 || updates[0].Title != "Lecture One" {
		t.Fatalf("expected title update, got %+v", updates)
	}

	if len(pkg.Timecodes) != 2 || pkg.Timecodes[0].Timecode != 1.0 {
		t.Fatalf("timecodes not ordered: %+v", pkg.Timecodes)
	}
	for _, tc := range pkg.Timecodes {
		if tc.Sprite != "sprite.jpg" || tc.Width == 0 || tc.Height == 0 {
			t.Fatalf("timecode missing sprite tile: %+v", tc)
		}
	}
	if pkg.Timecodes[1].X == pkg.Timecodes[0].X && pkg.Timecodes[1].Y == pkg.Timecodes[0].Y {
		t.Fatalf("tiles overlap: %+v", pkg.Timecodes)
	}

	public := filepath.Join(h.cfg.Paths.PublicDir, pkg.ID)
	for _, name := range []string{"package.json", "timecodes.json", "sprite.jpg", "images/early.png", "images/late.png"} {
		if _, err := os.Stat(filepath.Join(public, name)); err != nil {
			t.Fatalf("expected public asset %s: %v", name, err)
		}
	}
	var saved []store.Timecode
	data, err := os.ReadFile(filepath.Join(public, "timecodes.json"))
	if err != nil {
		t.Fatalf("read timecodes: %v", err)
	}
	if err := json.Unmarshal(data, &saved); err != nil || len(saved) != 2 || saved[0].Image != "images/early.png" {
		t.Fatalf("unexpected timecodes.json %s (%v)", data, err)
	}

	work := filepath.Join(h.cfg.Paths.WorkDir, pkg.ID)
	if _, err := os.Stat(filepath.Join(work, "source")); !os.IsNotExist(err) {
		t.Fatalf("expected copied source to be cleaned, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(work, "package", "metadata.json")); !os.IsNotExist(err) {
		t.Fatalf("expected manifest to be cleaned, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(work, "package", "video.mp4")); err != nil {
		t.Fatalf("expected media to be kept: %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("original should be kept without remove_original: %v", err)
	}
	if !slices.Contains(h.notifier.Events(), notifications.EventPackageReady) {
		t.Fatalf("expected ready notification, got %v", h.notifier.Events())
	}
}

func TestImagesWithSameNameKeepTheirDirectories(t *testing.T) {
	h := newHarness(t, "fake", nil, nil)
	src := filepath.Join(h.hot, "slides.tar.gz")
	writeArchiveImages(t, src, "part1/slide.png", "part2/slide.png", "images/cover.png")

	pkg := h.waitFor(t, h.submit(t, src).ID, store.StateReady, store.StateError)
	if pkg.State != store.StateReady {
		t.Fatalf("expected READY, got %s (%s)", pkg.State, pkg.ErrorMessage)
	}
	want := []string{"images/part1/slide.png", "images/part2/slide.png", "images/cover.png"}
	public := filepath.Join(h.cfg.Paths.PublicDir, pkg.ID)
	for i, tc := range pkg.Timecodes {
		if tc.Image != want[i] {
			t.Fatalf("timecode %d image = %q, want %q", i, tc.Image, want[i])
		}
		if _, err := os.Stat(filepath.Join(public, filepath.FromSlash(want[i]))); err != nil {
			t.Fatalf("expected public image %s: %v", want[i], err)
		}
	}
	first, err := os.ReadFile(filepath.Join(public, "images", "part1", "slide.png"))
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(public, "images", "part2", "slide.png"))
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatal("images with the same name overwrote each other")
	}
}

func TestVideoPackageRunsOptionalMediaSteps(t *testing.T) {
	h := newHarness(t, "fake", func(cfg *config.Config) {
		cfg.Pipeline.DefragmentMP4 = true
		cfg.Pipeline.GenerateThumb = true
		cfg.Pipeline.ProbeMetadata = true
		cfg.Pipeline.RemoveOriginal = true
		cfg.Pipeline.AutoPublish = true
	}, nil)
	src := filepath.Join(h.hot, "clip.mp4")
	testsupport.WriteMP4(t, src, 2048)

	pkg := h.waitFor(t, h.submit(t, src).ID, store.StatePublished, store.StateError)
	if pkg.State != store.StatePublished {
		t.Fatalf("expected PUBLISHED, got %s (%s)", pkg.State, pkg.ErrorMessage)
	}
	if !slices.Equal(pkg.MediasHeights, []int{1080}) {
		t.Fatalf("expected probed height, got %v", pkg.MediasHeights)
	}
	if d, ok := pkg.MetaFloat(store.MetaDuration); !ok || d != 12.5 {
		t.Fatalf("expected duration 12.5, got %v", d)
	}
	if !slices.Equal(h.tools.defragments, []string{"clip.mp4"}) || !slices.Equal(h.tools.thumbs, []string{"clip.mp4"}) {
		t.Fatalf("unexpected media tool calls %v %v", h.tools.defragments, h.tools.thumbs)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Paths.PublicDir, pkg.ID, "thumb.jpg")); err != nil {
		t.Fatalf("expected published thumbnail: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected original removed, got %v", err)
	}
	if !slices.Contains(h.notifier.Events(), notifications.EventPackagePublished) {
		t.Fatalf("expected published notification, got %v", h.notifier.Events())
	}
}

func TestUploadFailureResumesWithoutRedoingEarlierSteps(t *testing.T) {
	h := newHarness(t, "fake", func(cfg *config.Config) {
		cfg.Pipeline.RemoveOriginal = true
	}, func(f *platformtest.Fake) {
		f.UploadErrs = []error{platformtest.ErrUploadRejected}
	})
	src := filepath.Join(h.hot, "talk.mp4")
	testsupport.WriteMP4(t, src, 1024)

	pkg := h.waitFor(t, h.submit(t, src).ID, store.StateError, store.StateReady)
	if pkg.State != store.StateError || pkg.ErrorCode != failure.CodeMediaUpload {
		t.Fatalf("expected MEDIA_UPLOAD error, got %s/%s", pkg.State, pkg.ErrorCode)
	}
	if pkg.LastTransition != workflow.TransitionPrepare || pkg.LastState != store.StatePreparing {
		t.Fatalf("expected last success prepare, got %q/%s", pkg.LastTransition, pkg.LastState)
	}
	if !slices.Contains(h.notifier.Events(), notifications.EventPackageFailed) {
		t.Fatalf("expected failure notification")
	}

	// The original is gone, so a rerun of copy would fail.
	scheduled, err := h.mgr.Retry(context.Background(), pkg.ID)
	if err != nil || len(scheduled) != 1 {
		t.Fatalf("retry: %v %v", scheduled, err)
	}
	pkg = h.waitFor(t, pkg.ID, store.StateReady, store.StateError)
	if pkg.State != store.StateReady {
		t.Fatalf("expected READY after retry, got %s (%s)", pkg.State, pkg.ErrorMessage)
	}
	if pkg.ErrorCode != failure.CodeNone || pkg.ErrorMessage != "" {
		t.Fatalf("error not cleared: %s %q", pkg.ErrorCode, pkg.ErrorMessage)
	}
	if got := h.fake.Uploads(); !slices.Equal(got, []string{"talk.mp4", "talk.mp4"}) {
		t.Fatalf("unexpected uploads %v", got)
	}
}

func TestSynchronizePollsUntilAvailable(t *testing.T) {
	h := newHarness(t, "fake", nil, func(f *platformtest.Fake) { f.UnavailableFor = 2 })
	src := filepath.Join(h.hot, "poll.mp4")
	testsupport.WriteMP4(t, src, 512)

	pkg := h.waitFor(t, h.submit(t, src).ID, store.StateReady, store.StateError)
	if pkg.State != store.StateReady {
		t.Fatalf("expected READY, got %s (%s)", pkg.State, pkg.ErrorMessage)
	}
	if calls := h.fake.InfoCalls(); calls != 3 {
		t.Fatalf("expected 3 info calls, got %d", calls)
	}
}

func TestSynchronizeFailsAfterAttempts(t *testing.T) {
	h := newHarness(t, "fake", nil, func(f *platformtest.Fake) { f.UnavailableFor = 10 })
	src := filepath.Join(h.hot, "slow.mp4")
	testsupport.WriteMP4(t, src, 512)

	pkg := h.waitFor(t, h.submit(t, src).ID, store.StateError, store.StateReady)
	if pkg.ErrorCode != failure.CodeMediaConfigure {
		t.Fatalf("expected MEDIA_CONFIGURE, got %s", pkg.ErrorCode)
	}
	if calls := h.fake.InfoCalls(); calls != h.cfg.Pipeline.SyncAttempts {
		t.Fatalf("expected %d info calls, got %d", h.cfg.Pipeline.SyncAttempts, calls)
	}
	if pkg.LastTransition != workflow.TransitionUpload || len(pkg.MediaIDs) != 1 {
		t.Fatalf("upload result should be kept: %q %v", pkg.LastTransition, pkg.MediaIDs)
	}
}

func TestPackageWaitsForPlatformAssignment(t *testing.T) {
	h := newHarness(t, "", nil, nil)
	src := filepath.Join(h.hot, "orphan.mp4")
	testsupport.WriteMP4(t, src, 512)

	pkg := h.waitFor(t, h.submit(t, src).ID, store.StateWaitingForUpload, store.StateError)
	if pkg.State != store.StateWaitingForUpload || pkg.LastTransition != workflow.TransitionPrepare {
		t.Fatalf("expected resting WAITING_FOR_UPLOAD after prepare, got %s/%q", pkg.State, pkg.LastTransition)
	}
	if len(h.fake.Uploads()) != 0 {
		t.Fatalf("nothing should be uploaded without a platform")
	}

	if _, err := h.mgr.Upload(context.Background(), []string{pkg.ID}, "missing"); failure.CodeOf(err, 0) != failure.CodeInvalidConfiguration {
		t.Fatalf("expected INVALID_CONFIGURATION for unknown platform, got %v", err)
	}
	scheduled, err := h.mgr.Upload(context.Background(), []string{pkg.ID}, "fake")
	if err != nil || len(scheduled) != 1 {
		t.Fatalf("upload: %v %v", scheduled, err)
	}
	pkg = h.waitFor(t, pkg.ID, store.StateReady, store.StateError)
	if pkg.State != store.StateReady || pkg.Platform != "fake" {
		t.Fatalf("expected READY on fake, got %s/%q", pkg.State, pkg.Platform)
	}
}

func TestDefaultPlatformSettingIsUsed(t *testing.T) {
	h := newHarness(t, "", nil, nil)
	if err := h.store.PutSetting(context.Background(), store.SettingDefaultPlatform, "fake"); err != nil {
		t.Fatalf("put setting: %v", err)
	}
	src := filepath.Join(h.hot, "default.mp4")
	testsupport.WriteMP4(t, src, 512)

	pkg := h.waitFor(t, h.submit(t, src).ID, store.StateReady, store.StateError, store.StateWaitingForUpload)
	if pkg.State != store.StateReady || pkg.Platform != "fake" {
		t.Fatalf("expected READY on default platform, got %s/%q", pkg.State, pkg.Platform)
	}
}

func TestReuploadResetsMediaAndKeepsPublishedFlag(t *testing.T) {
	h := newHarness(t, "fake", nil, nil)
	src := filepath.Join(h.hot, "again.mp4")
	testsupport.WriteMP4(t, src, 512)
	pkg := h.waitFor(t, h.submit(t, src).ID, store.StateReady, store.StateError)
	if _, err := h.mgr.Publish(context.Background(), pkg.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if _, err := h.mgr.Upload(context.Background(), []string{pkg.ID}, "fake"); err != nil {
		t.Fatalf("re-upload: %v", err)
	}
	pkg = h.waitFor(t, pkg.ID, store.StatePublished, store.StateError)
	if pkg.State != store.StatePublished {
		t.Fatalf("expected PUBLISHED after re-upload, got %s (%s)", pkg.State, pkg.ErrorMessage)
	}
	if !slices.Equal(pkg.MediaIDs, []string{"media-2"}) {
		t.Fatalf("expected fresh media id, got %v", pkg.MediaIDs)
	}
}

func TestPublishUnpublishAndRemove(t *testing.T) {
	h := newHarness(t, "fake", nil, nil)
	src := filepath.Join(h.hot, "show.mp4")
	testsupport.WriteMP4(t, src, 512)
	pkg := h.waitFor(t, h.submit(t, src).ID, store.StateReady, store.StateError)
	ctx := context.Background()

	published, err := h.mgr.Publish(ctx, pkg.ID)
	if err != nil || published.State != store.StatePublished {
		t.Fatalf("publish: %v %v", published, err)
	}
	ready, err := h.mgr.Unpublish(ctx, pkg.ID)
	if err != nil || ready.State != store.StateReady {
		t.Fatalf("unpublish: %v %v", ready, err)
	}
	if _, err := h.mgr.Unpublish(ctx, pkg.ID); err != nil {
		t.Fatalf("unpublish of READY should be a no-op: %v", err)
	}
	if _, err := h.mgr.Publish(ctx, "missing"); failure.CodeOf(err, 0) != failure.CodePackageNotFound {
		t.Fatalf("expected PACKAGE_NOT_FOUND, got %v", err)
	}

	if err := h.mgr.Remove(ctx, pkg.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := h.store.Get(ctx, pkg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected record removed, got %v", err)
	}
	if !slices.Equal(h.fake.Removed(), []string{"media-1"}) {
		t.Fatalf("expected remote media removed, got %v", h.fake.Removed())
	}
	for _, dir := range []string{h.cfg.Paths.PublicDir, h.cfg.Paths.WorkDir} {
		if _, err := os.Stat(filepath.Join(dir, pkg.ID)); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed, got %v", dir, err)
		}
	}
	events := h.notifier.Events()
	for _, want := range []notifications.Event{notifications.EventPackagePublished, notifications.EventPackageUnpublished, notifications.EventPackageRemoved} {
		if !slices.Contains(events, want) {
			t.Fatalf("missing %s in %v", want, events)
		}
	}
}

func TestPublishRejectsPackagesNotReady(t *testing.T) {
	h := newHarness(t, "fake", nil, nil)
	pkg := &store.Package{Name: "broken", OriginalPath: "/nowhere/broken.mp4", PackageType: store.PackageTypeVideo,
		State: store.StateError, ErrorCode: failure.CodeCopy}
	if err := h.store.Create(context.Background(), pkg); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.mgr.Publish(context.Background(), pkg.ID); failure.CodeOf(err, 0) != failure.CodeTransition {
		t.Fatalf("expected TRANSITION error, got %v", err)
	}
}

func TestRemoveAggregatesProviderErrors(t *testing.T) {
	h := newHarness(t, "fake", nil, func(f *platformtest.Fake) { f.RemoveErr = errors.New("remote refused") })
	src := filepath.Join(h.hot, "stuck.mp4")
	testsupport.WriteMP4(t, src, 512)
	pkg := h.waitFor(t, h.submit(t, src).ID, store.StateReady, store.StateError)

	err := h.mgr.Remove(context.Background(), pkg.ID)
	if err == nil {
		t.Fatal("expected remove error")
	}
	if _, gerr := h.store.Get(context.Background(), pkg.ID); !errors.Is(gerr, store.ErrNotFound) {
		t.Fatalf("record should still be removed, got %v", gerr)
	}
}

func TestResumeReentersInterruptedPackages(t *testing.T) {
	h := newHarness(t, "fake", nil, nil)
	ctx := context.Background()
	src := filepath.Join(h.hot, "crashed.mp4")
	testsupport.WriteMP4(t, src, 512)

	interrupted := &store.Package{Name: "crashed", OriginalPath: src, PackageType: store.PackageTypeVideo,
		Platform: "fake", State: store.StateCopying}
	if err := h.store.Create(ctx, interrupted); err != nil {
		t.Fatalf("create: %v", err)
	}
	done := &store.Package{Name: "done", OriginalPath: filepath.Join(h.hot, "done.mp4"), PackageType: store.PackageTypeVideo,
		State: store.StateReady, LastTransition: workflow.TransitionCleanDirectory}
	if err := h.store.Create(ctx, done); err != nil {
		t.Fatalf("create: %v", err)
	}

	scheduled, err := h.mgr.Resume(ctx)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !slices.Equal(scheduled, []string{interrupted.ID}) {
		t.Fatalf("expected only the interrupted package, got %v", scheduled)
	}
	pkg := h.waitFor(t, interrupted.ID, store.StateReady, store.StateError)
	if pkg.State != store.StateReady {
		t.Fatalf("expected READY, got %s (%s)", pkg.State, pkg.ErrorMessage)
	}
}

func TestRetryIgnoresPackagesAtRest(t *testing.T) {
	h := newHarness(t, "fake", nil, nil)
	ctx := context.Background()
	done := &store.Package{Name: "done", OriginalPath: filepath.Join(h.hot, "done.mp4"), PackageType: store.PackageTypeVideo,
		State: store.StateReady, LastTransition: workflow.TransitionCleanDirectory}
	if err := h.store.Create(ctx, done); err != nil {
		t.Fatalf("create: %v", err)
	}
	scheduled, err := h.mgr.Retry(ctx, done.ID, "missing")
	if len(scheduled) != 0 {
		t.Fatalf("READY package must not be retried: %v", scheduled)
	}
	if failure.CodeOf(err, 0) != failure.CodePackageNotFound {
		t.Fatalf("expected PACKAGE_NOT_FOUND for missing id, got %v", err)
	}
}

func TestSubmitRejectsUnsupportedFiles(t *testing.T) {
	h := newHarness(t, "fake", nil, nil)
	src := filepath.Join(h.hot, "notes.txt")
	testsupport.WriteFile(t, src, 10)
	if _, err := h.mgr.Submit(context.Background(), src, workflow.SubmitOptions{}); failure.CodeOf(err, 0) != failure.CodeValidation {
		t.Fatalf("expected VALIDATION error, got %v", err)
	}
}

func TestValidationFailureRecordsCode(t *testing.T) {
	h := newHarness(t, "fake", nil, nil)
	src := filepath.Join(h.hot, "empty.tar.gz")
	testsupport.WriteTarGz(t, src, map[string][]byte{"readme.txt": []byte("no manifest")})

	pkg := h.waitFor(t, h.submit(t, src).ID, store.StateError, store.StateReady)
	if pkg.ErrorCode != failure.CodeValidation || pkg.LastTransition != workflow.TransitionExtract {
		t.Fatalf("expected VALIDATION after extract, got %s/%q", pkg.ErrorCode, pkg.LastTransition)
	}
}

func TestMergeFoldsOlderPackageIntoNewer(t *testing.T) {
	h := newHarness(t, "fake", func(cfg *config.Config) { cfg.Pipeline.Merge = true }, nil)
	ctx := context.Background()

	first := filepath.Join(h.hot, "one", "lecture.mp4")
	testsupport.WriteMP4(t, first, 512)
	older := h.waitFor(t, h.submit(t, first).ID, store.StateReady, store.StateError)
	if older.State != store.StateReady {
		t.Fatalf("expected older READY, got %s (%s)", older.State, older.ErrorMessage)
	}
	if _, err := h.mgr.Publish(ctx, older.ID); err != nil {
		t.Fatalf("publish older: %v", err)
	}

	second := filepath.Join(h.hot, "two", "lecture.mp4")
	testsupport.WriteMP4(t, second, 512)
	newer := h.waitFor(t, h.submit(t, second).ID, store.StatePublished, store.StateReady, store.StateError)
	if newer.State != store.StatePublished {
		t.Fatalf("expected merged package to inherit PUBLISHED, got %s (%s)", newer.State, newer.ErrorMessage)
	}
	if !slices.Equal(newer.MediaIDs, []string{"media-1", "media-2"}) {
		t.Fatalf("expected older media first, got %v", newer.MediaIDs)
	}
	if len(newer.Sources.Files) != 2 {
		t.Fatalf("expected merged sources, got %+v", newer.Sources)
	}
	if newer.MetaString(store.MetaMergeWith) != "" {
		t.Fatalf("merge metadata should be cleared")
	}
	if _, err := h.store.Get(ctx, older.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected older record removed, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Paths.PublicDir, older.ID)); !os.IsNotExist(err) {
		t.Fatalf("expected older public dir removed, got %v", err)
	}
	merged := filepath.Join(h.cfg.Paths.WorkDir, newer.ID, "package", "merged", older.ID, "lecture.mp4")
	if _, err := os.Stat(merged); err != nil {
		t.Fatalf("expected older media moved into the merged package: %v", err)
	}

	again, err := h.mgr.Submit(ctx, first, workflow.SubmitOptions{})
	if !errors.Is(err, workflow.ErrAlreadySubmitted) {
		t.Fatalf("expected the absorbed file to be recognised, got %v", err)
	}
	if again.ID != newer.ID {
		t.Fatalf("expected merged package %s, got %s", newer.ID, again.ID)
	}
}

func TestSubmitSkipsFilesAlreadySubmitted(t *testing.T) {
	h := newHarness(t, "fake", nil, nil)
	ctx := context.Background()
	src := filepath.Join(h.hot, "talk.mp4")
	testsupport.WriteMP4(t, src, 1024)

	first := h.waitFor(t, h.submit(t, src).ID, store.StateReady, store.StateError)
	if first.State != store.StateReady {
		t.Fatalf("expected READY, got %s (%s)", first.State, first.ErrorMessage)
	}

	again, err := h.mgr.Submit(ctx, src, workflow.SubmitOptions{})
	if !errors.Is(err, workflow.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	if again == nil || again.ID != first.ID {
		t.Fatalf("expected existing package %s, got %+v", first.ID, again)
	}
	all, err := h.store.GetAll(ctx, store.Query{})
	if err != nil {
		t.Fatalf("list packages: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one package, got %d", len(all))
	}
	if got := h.fake.Uploads(); len(got) != 1 {
		t.Fatalf("expected a single upload, got %v", got)
	}

	testsupport.WriteMP4(t, src, 4096)
	replaced := h.submit(t, src)
	if replaced.ID == first.ID {
		t.Fatal("a changed file must become a new package")
	}
}

func TestMergeWaitsForOlderInFlightPackage(t *testing.T) {
	h := newHarness(t, "fake", func(cfg *config.Config) { cfg.Pipeline.Merge = true }, nil)
	ctx := context.Background()

	busy := &store.Package{Name: "lecture", OriginalPath: filepath.Join(h.hot, "old", "lecture.mp4"),
		PackageType: store.PackageTypeVideo, Platform: "fake", State: store.StateUploading}
	if err := h.store.Create(ctx, busy); err != nil {
		t.Fatalf("create: %v", err)
	}
	src := filepath.Join(h.hot, "lecture.mp4")
	testsupport.WriteMP4(t, src, 512)

	pkg := h.waitFor(t, h.submit(t, src).ID, store.StateError, store.StateReady)
	if pkg.ErrorCode != failure.CodeInitMergeWaitForMedia {
		t.Fatalf("expected INIT_MERGE_WAIT_FOR_MEDIA, got %s (%s)", pkg.ErrorCode, pkg.ErrorMessage)
	}
	if pkg.LastTransition != workflow.TransitionSynchronize {
		t.Fatalf("expected synchronize as last success, got %q", pkg.LastTransition)
	}
	still, err := h.store.Get(ctx, busy.ID)
	if err != nil || still.State != store.StateUploading {
		t.Fatalf("older package must be untouched: %v %v", still, err)
	}
}

func TestTransitionNamesFollowPipelineOrder(t *testing.T) {
	names := workflow.TransitionNames()
	want := []string{
		workflow.TransitionCopy, workflow.TransitionRemoveOriginal, workflow.TransitionExtract,
		workflow.TransitionValidate, workflow.TransitionDefragment, workflow.TransitionGenerateThumb,
		workflow.TransitionGetMetadata, workflow.TransitionPrepare, workflow.TransitionUpload,
		workflow.TransitionSynchronize, workflow.TransitionInitMerge, workflow.TransitionMerge,
		workflow.TransitionFinalizeMerge, workflow.TransitionRemovePackage, workflow.TransitionSaveTimecodes,
		workflow.TransitionCopyImages, workflow.TransitionCleanDirectory,
	}
	if !slices.Equal(names, want) {
		t.Fatalf("unexpected order %v", names)
	}
}
