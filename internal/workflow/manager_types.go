package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"mediapub/internal/failure"
	"mediapub/internal/store"
)

// Transition names persisted as lastTransition.
const (
	TransitionCopy           = "copy"
	TransitionRemoveOriginal = "removeOriginal"
	TransitionExtract        = "extract"
	TransitionValidate       = "validate"
	TransitionDefragment     = "defragment"
	TransitionGenerateThumb  = "generateThumb"
	TransitionGetMetadata    = "getMetadata"
	TransitionPrepare        = "prepare"
	TransitionUpload         = "upload"
	TransitionSynchronize    = "synchronize"
	TransitionInitMerge      = "initMerge"
	TransitionMerge          = "merge"
	TransitionFinalizeMerge  = "finalizeMerge"
	TransitionRemovePackage  = "removePackage"
	TransitionSaveTimecodes  = "saveTimecodes"
	TransitionCopyImages     = "copyImages"
	TransitionCleanDirectory = "cleanDirectory"
)

// errRest stops the drive loop without failing the package; the transition
// has parked it in a resting state awaiting an operator action.
var errRest = errors.New("package resting")

type transition struct {
	name string
	// processing is persisted before run. keepState leaves the current state
	// in place instead.
	processing store.State
	keepState  bool
	code       failure.Code
	enabled    func(*Manager, *store.Package) bool
	run        func(*task, context.Context) error
}

// task is the per-run view a transition works on. Mutations to pkg are
// persisted by the engine once run returns successfully.
type task struct {
	m      *Manager
	pkg    *store.Package
	logger *zap.Logger
}

func always(*Manager, *store.Package) bool { return true }

func mergeRecorded(_ *Manager, pkg *store.Package) bool {
	return pkg.MetaString(store.MetaMergeWith) != ""
}

func buildTransitions() []transition {
	return []transition{
		{name: TransitionCopy, processing: store.StateCopying, code: failure.CodeCopy, enabled: always, run: (*task).copySource},
		{name: TransitionRemoveOriginal, processing: store.StateCopying, code: failure.CodeUnlink,
			enabled: func(m *Manager, _ *store.Package) bool { return m.cfg.Pipeline.RemoveOriginal },
			run:     (*task).removeOriginal},
		{name: TransitionExtract, processing: store.StateExtracting, code: failure.CodeExtract, enabled: always, run: (*task).extract},
		{name: TransitionValidate, processing: store.StateValidating, code: failure.CodeValidation, enabled: always, run: (*task).validate},
		{name: TransitionDefragment, processing: store.StateDefragmentMP4, code: failure.CodeDefragmentMP4,
			enabled: func(m *Manager, pkg *store.Package) bool {
				return m.cfg.Pipeline.DefragmentMP4 && len(mp4Files(pkg)) > 0
			},
			run: (*task).defragment},
		{name: TransitionGenerateThumb, processing: store.StateGenerateThumb, code: failure.CodeGenerateThumb,
			enabled: func(m *Manager, _ *store.Package) bool { return m.cfg.Pipeline.GenerateThumb },
			run:     (*task).generateThumb},
		{name: TransitionGetMetadata, processing: store.StateGetMetadata, code: failure.CodeGetMetadata,
			enabled: func(m *Manager, _ *store.Package) bool { return m.cfg.Pipeline.ProbeMetadata },
			run:     (*task).getMetadata},
		{name: TransitionPrepare, processing: store.StatePreparing, code: failure.CodeSavePackageData, enabled: always, run: (*task).prepare},
		{name: TransitionUpload, processing: store.StateWaitingForUpload, code: failure.CodeMediaUpload, enabled: always, run: (*task).upload},
		{name: TransitionSynchronize, processing: store.StateSynchronizing, code: failure.CodeMediaConfigure, enabled: always, run: (*task).synchronize},
		{name: TransitionInitMerge, keepState: true, code: failure.CodeInitMergeGetPackagesWithSameName,
			enabled: func(m *Manager, _ *store.Package) bool { return m.cfg.Pipeline.Merge },
			run:     (*task).initMerge},
		{name: TransitionMerge, processing: store.StateMerging, code: failure.CodeMerge, enabled: mergeRecorded, run: (*task).merge},
		{name: TransitionFinalizeMerge, processing: store.StateMerging, code: failure.CodeFinalizeMerge, enabled: mergeRecorded, run: (*task).finalizeMerge},
		{name: TransitionRemovePackage, processing: store.StateMerging, code: failure.CodeRemovePackage, enabled: mergeRecorded, run: (*task).removePackage},
		{name: TransitionSaveTimecodes, processing: store.StateSavingTimecodes, code: failure.CodeSaveTimecode, enabled: always, run: (*task).saveTimecodes},
		{name: TransitionCopyImages, processing: store.StateCopyingImages, code: failure.CodeCopyImages, enabled: always, run: (*task).copyImages},
		{name: TransitionCleanDirectory, processing: store.StateCopyingImages, code: failure.CodeCleanDirectory, enabled: always, run: (*task).cleanDirectory},
	}
}

// nextTransition returns the first enabled successor of pkg.LastTransition.
// ok is false once the table is exhausted.
func (m *Manager) nextTransition(pkg *store.Package) (transition, bool, error) {
	start := 0
	if last := strings.TrimSpace(pkg.LastTransition); last != "" {
		idx := m.transitionIndex(last)
		if idx < 0 {
			return transition{}, false, failure.Newf(failure.KindPackage, failure.CodeTransition, "unknown last transition %q", last)
		}
		start = idx + 1
	}
	for _, t := range m.transitions[start:] {
		if t.enabled(m, pkg) {
			return t, true, nil
		}
	}
	return transition{}, false, nil
}

func (m *Manager) transitionIndex(name string) int {
	for i, t := range m.transitions {
		if t.name == name {
			return i
		}
	}
	return -1
}

// TransitionNames lists the table in execution order.
func TransitionNames() []string {
	table := buildTransitions()
	names := make([]string, len(table))
	for i, t := range table {
		names[i] = t.name
	}
	return names
}

func mp4Files(pkg *store.Package) []string {
	var out []string
	for _, file := range pkg.MetaStrings(store.MetaMediaFiles) {
		switch strings.ToLower(filepath.Ext(file)) {
		case ".mp4", ".m4v", ".mov":
			out = append(out, file)
		}
	}
	return out
}

func (t transition) String() string {
	return fmt.Sprintf("%s(%s)", t.name, t.code)
}
