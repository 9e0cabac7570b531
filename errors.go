package btlog

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions with no associated data.
var (
	// ErrSchema is wrapped by schema-resolution failures: unknown attribute
	// type, malformed array type, missing message id table entry. An enum
	// value out of range is reported as *EnumRangeError instead.
	ErrSchema = errors.New("schema error")

	// ErrBufferNotFullyConsumed is returned when a top-level decode leaves
	// unused bytes in the message's payload window.
	ErrBufferNotFullyConsumed = errors.New("payload bytes not fully consumed")

	// ErrUnsupportedChunk marks the CompressedChunk extension point: the
	// format reserves magic byte 1, but this reader never decompresses it.
	ErrUnsupportedChunk = errors.New("compressed chunks are not supported")

	// ErrUnsupportedSettingsVersion is returned when a SettingsChunk's
	// settingVersion is not the one value this reader understands.
	ErrUnsupportedSettingsVersion = errors.New("unsupported settings version")

	// ErrUnsupportedIndicesVersion is returned when an on-disk IndicesChunk
	// carries a version other than 2.
	ErrUnsupportedIndicesVersion = errors.New("unsupported indices chunk version")

	// ErrMissingIndexFile is returned by Log.RootFrameAccessor when the log
	// has no open external index files, i.e. before Eval has run.
	ErrMissingIndexFile = errors.New("missing external index file")

	// ErrAnnotationKey is returned by string-keyed frame lookup for the
	// "Annotation" key, which may occur more than once per frame.
	ErrAnnotationKey = errors.New(`use frame.Annotations, not frame["Annotation"]: a frame may hold several`)
)

// EnumRangeError reports an enum byte that is out of range for its enum's
// declared value count.
type EnumRangeError struct {
	EnumName string
	Value    byte
	NumValid int
}

func (e *EnumRangeError) Error() string {
	return fmt.Sprintf("enum %s: value %d out of range [0,%d)", e.EnumName, e.Value, e.NumValid)
}

func (e *EnumRangeError) Is(target error) bool {
	_, ok := target.(*EnumRangeError)
	return ok
}

// FrameStructureError reports a FrameBegin/FrameFinished mismatch or a
// message id out of range while splitting frames. It carries the absolute
// byte offset of the offending message so the caller can decide where to
// truncate.
type FrameStructureError struct {
	Offset uint64
	Reason string
}

func (e *FrameStructureError) Error() string {
	return fmt.Sprintf("frame structure error at byte %d: %s", e.Offset, e.Reason)
}

func (e *FrameStructureError) Is(target error) bool {
	_, ok := target.(*FrameStructureError)
	return ok
}

// DecodeError reports a message that failed to decode, carrying its
// absolute message index so bulk parse can report it and continue.
type DecodeError struct {
	AbsIndex uint64
	ClassName string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("message %d (%s): %s", e.AbsIndex, e.ClassName, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool {
	_, ok := target.(*DecodeError)
	return ok
}
