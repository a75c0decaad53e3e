// Package failure defines the tagged error type used by the publication
// pipeline and the closed numeric taxonomy persisted on failed packages.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind discriminates the family an error belongs to.
type Kind string

const (
	KindPackage    Kind = "package"
	KindArchive    Kind = "archive"
	KindValidation Kind = "validation"
	KindPlatform   Kind = "platform"
	KindMerge      Kind = "merge"
	KindConfig     Kind = "config"
	KindWatcher    Kind = "watcher"
)

// Code identifies the failure point of a package transition. Values are
// persisted, so existing numbers must never be reassigned.
type Code int

const (
	CodeNone                             Code = 0
	CodeCopy                             Code = 1
	CodeUnlink                           Code = 2
	CodeExtract                          Code = 3
	CodeValidation                       Code = 4
	CodeCreatePublicDir                  Code = 5
	CodeSavePackageData                  Code = 6
	CodeSaveTimecode                     Code = 7
	CodeMediaUpload                      Code = 8
	CodeMediaConfigure                   Code = 9
	CodeScanForImages                    Code = 10
	CodeCleanFile                        Code = 11
	CodeCleanDirectory                   Code = 12
	CodePackageNotFound                  Code = 13
	CodeTransition                       Code = 14
	CodeInvalidConfiguration             Code = 15
	CodeGenerateThumb                    Code = 16
	CodeGetMetadata                      Code = 17
	CodeDefragmentMP4                    Code = 18
	CodeCopyImages                       Code = 19
	CodeInitMergeGetPackagesWithSameName Code = 20
	CodeInitMergeWaitForMedia            Code = 21
	CodeInitMergeLockPackage             Code = 22
	CodeMerge                            Code = 23
	CodeFinalizeMerge                    Code = 24
	CodeRemovePackage                    Code = 25
)

var codeNames = map[Code]string{
	CodeNone:                             "NONE",
	CodeCopy:                             "COPY_ERROR",
	CodeUnlink:                           "UNLINK_ERROR",
	CodeExtract:                          "EXTRACT_ERROR",
	CodeValidation:                       "VALIDATION_ERROR",
	CodeCreatePublicDir:                  "CREATE_PUBLIC_DIR_ERROR",
	CodeSavePackageData:                  "SAVE_PACKAGE_DATA_ERROR",
	CodeSaveTimecode:                     "SAVE_TIMECODE_ERROR",
	CodeMediaUpload:                      "MEDIA_UPLOAD_ERROR",
	CodeMediaConfigure:                   "MEDIA_CONFIGURE_ERROR",
	CodeScanForImages:                    "SCAN_FOR_IMAGES_ERROR",
	CodeCleanFile:                        "CLEAN_FILE_ERROR",
	CodeCleanDirectory:                   "CLEAN_DIRECTORY_ERROR",
	CodePackageNotFound:                  "PACKAGE_NOT_FOUND_ERROR",
	CodeTransition:                       "TRANSITION_ERROR",
	CodeInvalidConfiguration:             "INVALID_CONFIGURATION_ERROR",
	CodeGenerateThumb:                    "GENERATE_THUMB_ERROR",
	CodeGetMetadata:                      "GET_METADATA_ERROR",
	CodeDefragmentMP4:                    "DEFRAGMENT_MP4_ERROR",
	CodeCopyImages:                       "COPY_IMAGES_ERROR",
	CodeInitMergeGetPackagesWithSameName: "INIT_MERGE_GET_PACKAGES_WITH_SAME_NAME_ERROR",
	CodeInitMergeWaitForMedia:            "INIT_MERGE_WAIT_FOR_MEDIA_ERROR",
	CodeInitMergeLockPackage:             "INIT_MERGE_LOCK_PACKAGE_ERROR",
	CodeMerge:                            "MERGE_ERROR",
	CodeFinalizeMerge:                    "FINALIZE_MERGE_ERROR",
	CodeRemovePackage:                    "REMOVE_PACKAGE_ERROR",
}

// String returns the symbolic name of the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_ERROR(%d)", int(c))
}

// Valid reports whether c belongs to the taxonomy and is not CodeNone.
func (c Code) Valid() bool {
	_, ok := codeNames[c]
	return ok && c != CodeNone
}

// ParseCode resolves a symbolic name or its short form ("MEDIA_UPLOAD") to a code.
func ParseCode(value string) (Code, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	if !strings.HasSuffix(normalized, "_ERROR") {
		normalized += "_ERROR"
	}
	for code, name := range codeNames {
		if name == normalized {
			return code, true
		}
	}
	return CodeNone, false
}

// Codes returns every valid code in ascending order.
func Codes() []Code {
	out := make([]Code, 0, len(codeNames)-1)
	for c := CodeCopy; c <= CodeRemovePackage; c++ {
		out = append(out, c)
	}
	return out
}

// Error is the single tagged error type of the pipeline.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

// New builds a tagged error without a cause.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds a tagged error around cause. A nil cause still yields an error.
func Wrap(kind Kind, code Code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// Newf is New with formatting.
func Newf(kind Kind, code Code, format string, args ...any) *Error {
	return New(kind, code, fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	if e.Kind != "" {
		parts = append(parts, string(e.Kind))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	msg := strings.Join(parts, ": ")
	if e.Err != nil {
		if msg == "" {
			return e.Err.Error()
		}
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error with the same kind and code, so sentinel values
// built with New can be compared with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code && (t.Message == "" || t.Message == e.Message)
}

// As returns the outermost tagged error in err's chain.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code carried by err, or fallback when err is untagged or
// carries CodeNone.
func CodeOf(err error, fallback Code) Code {
	if typed := As(err); typed != nil && typed.Code.Valid() {
		return typed.Code
	}
	return fallback
}

// KindOf returns the kind carried by err, or fallback when err is untagged.
func KindOf(err error, fallback Kind) Kind {
	if typed := As(err); typed != nil && typed.Kind != "" {
		return typed.Kind
	}
	return fallback
}
