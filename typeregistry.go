package btlog

import (
	"fmt"
	"strings"
)

// MessageIDTable is the log-local mapping built from a MessageIDsChunk:
// logId -> name, plus the canonical-name resolution needed by the frame
// splitter.
type MessageIDTable struct {
	names []string // indexed by logId
}

// NewMessageIDTable builds a table from the ordered names read out of a
// MessageIDsChunk.
func NewMessageIDTable(names []string) *MessageIDTable {
	return &MessageIDTable{names: names}
}

func (t *MessageIDTable) Count() int { return len(t.names) }

// Name returns the log-local name for logId, or "" if logId has no entry.
func (t *MessageIDTable) Name(logID uint8) string {
	if logID == undefinedLogID || int(logID) >= len(t.names) {
		return ""
	}
	return t.names[logID]
}

// CanonicalName returns the alias-resolved canonical name for logId.
func (t *MessageIDTable) CanonicalName(logID uint8) string {
	return canonicalIDName(t.Name(logID))
}

// ClassName derives the representation class name from logId by stripping
// the leading "id" prefix off its canonical name.
func (t *MessageIDTable) ClassName(logID uint8) (string, error) {
	name := t.Name(logID)
	if name == "" {
		return "", fmt.Errorf("logId %d: %w", logID, ErrSchema)
	}
	canon := canonicalIDName(name)
	return strings.TrimPrefix(canon, "id"), nil
}

func (t *MessageIDTable) IsFrameBegin(logID uint8) bool {
	return t.CanonicalName(logID) == idFrameBeginName
}

func (t *MessageIDTable) IsFrameFinished(logID uint8) bool {
	return t.CanonicalName(logID) == idFrameFinishedName
}

// attr is one (name, type) pair in a class's declared field order.
type attr struct {
	Name string
	Type string
}

// TypeInfo is the type registry built once per log from its TypeInfoChunk:
// the set of primitive names, the class field lists, and the enum value
// lists, plus a precomputed read plan per class.
type TypeInfo struct {
	NeedsUnification bool
	primitives       map[string]bool
	classes          map[string][]attr
	enums            map[string][]string
}

// NewTypeInfo builds an empty registry; callers populate it while parsing
// the TypeInfoChunk, normalizing names through Normalize when
// needsUnification is false.
func NewTypeInfo(needsUnification bool) *TypeInfo {
	return &TypeInfo{
		NeedsUnification: needsUnification,
		primitives:       make(map[string]bool),
		classes:          make(map[string][]attr),
		enums:            make(map[string][]string),
	}
}

// Normalize applies the demangling normalizer when the unification flag is
// clear; when set, names pass through unchanged.
func (t *TypeInfo) Normalize(name string) string {
	if t.NeedsUnification {
		return name
	}
	return demangle(name)
}

// demangle applies the fixed rewrite rules: delete "::__1", rewrite the
// "123ul" unsigned-long literal suffix to "123", and collapse the spacing
// artifacts left by a C++ template pretty-printer.
func demangle(name string) string {
	s := strings.ReplaceAll(name, "::__1", "")
	s = stripUnsignedLongSuffix(s)
	s = strings.ReplaceAll(s, ", ", ",")
	s = strings.ReplaceAll(s, " >", ">")
	s = strings.ReplaceAll(s, " [", "[")
	s = strings.ReplaceAll(s, " *(*)", "")
	return s
}

// stripUnsignedLongSuffix rewrites every digit run immediately followed by
// "ul" (e.g. "123ul") down to the bare digit run.
func stripUnsignedLongSuffix(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		j := i
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		if j > i && j+1 < len(s) && s[j] == 'u' && s[j+1] == 'l' {
			b.WriteString(s[i:j])
			i = j + 2
			continue
		}
		if j > i {
			b.WriteString(s[i:j])
			i = j
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func (t *TypeInfo) AddPrimitive(name string) {
	t.primitives[t.Normalize(name)] = true
}

func (t *TypeInfo) AddClass(name string, attrs []attr) {
	normAttrs := make([]attr, len(attrs))
	for i, a := range attrs {
		normAttrs[i] = attr{Name: a.Name, Type: t.Normalize(a.Type)}
	}
	t.classes[t.Normalize(name)] = normAttrs
}

func (t *TypeInfo) AddEnum(name string, values []string) {
	t.enums[t.Normalize(name)] = values
}

func (t *TypeInfo) IsPrimitive(name string) bool { return t.primitives[name] }

func (t *TypeInfo) ClassFields(name string) ([]attr, bool) {
	f, ok := t.classes[name]
	return f, ok
}

func (t *TypeInfo) EnumValues(name string) ([]string, bool) {
	v, ok := t.enums[name]
	return v, ok
}
