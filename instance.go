package btlog

// InstanceFrame is the eager, in-memory realization of the frame/message
// contract {parent, children, startByte, endByte, index, absIndex, log}:
// it wraps an already-materialized Frame and owns its Messages directly.
// Its parent link is implicit (Go's collector has no trouble with the
// cyclic frame<->message references the source language avoided arenas
// for); what the instance/accessor duality still needs from each other is
// the shared contract surface, which both types expose.
type InstanceFrame struct {
	log            *Log
	frame          *Frame
	threadIndex    int
	threadIndexSet bool
}

func NewInstanceFrame(log *Log, f *Frame) *InstanceFrame {
	return &InstanceFrame{log: log, frame: f}
}

func (n *InstanceFrame) AbsIndex() uint64     { return n.frame.AbsIndex }
func (n *InstanceFrame) StartByte() uint64    { return n.frame.StartByte }
func (n *InstanceFrame) EndByte() uint64      { return n.frame.EndByte }
func (n *InstanceFrame) ThreadName() string   { return n.frame.ThreadName }
func (n *InstanceFrame) HasImage() bool       { return n.frame.HasImage }
func (n *InstanceFrame) Children() []Message  { return n.frame.Messages }
func (n *InstanceFrame) Dummies() []Message   { return n.frame.Dummies }
func (n *InstanceFrame) Log() *Log            { return n.log }
func (n *InstanceFrame) Frame() *Frame        { return n.frame }

// ThreadIndex returns this frame's position within its thread's frame
// list, computed lazily and memoized on first access.
func (n *InstanceFrame) ThreadIndex() int {
	if !n.threadIndexSet {
		n.threadIndex = n.log.threadIndexOf(n.frame)
		n.threadIndexSet = true
	}
	return n.threadIndex
}

// ByClassName linearly scans Children comparing className; "Annotation"
// is rejected in favor of Annotations, matching the accessor's contract.
func (n *InstanceFrame) ByClassName(name string) (*Message, error) {
	if name == "Annotation" {
		return nil, ErrAnnotationKey
	}
	for i := range n.frame.Messages {
		if n.frame.Messages[i].ClassName == name {
			return &n.frame.Messages[i], nil
		}
	}
	return nil, errNoMessageOfClass(name)
}

// Annotations returns every Annotation-classed message in this frame.
func (n *InstanceFrame) Annotations() []Message {
	var out []Message
	for _, m := range n.frame.Messages {
		if m.ClassName == "Annotation" {
			out = append(out, m)
		}
	}
	return out
}

func errNoMessageOfClass(name string) error {
	return &classLookupError{ClassName: name}
}

type classLookupError struct{ ClassName string }

func (e *classLookupError) Error() string {
	return "no message of class " + e.ClassName + " in frame"
}

// InstanceMessage is the eager realization of one message, wrapping its
// parent InstanceFrame so traversal can walk upward without a raw pointer
// cycle.
type InstanceMessage struct {
	log    *Log
	parent *InstanceFrame
	msg    *Message
}

func NewInstanceMessage(log *Log, parent *InstanceFrame, m *Message) *InstanceMessage {
	return &InstanceMessage{log: log, parent: parent, msg: m}
}

func (n *InstanceMessage) AbsIndex() uint64      { return n.msg.AbsIndex }
func (n *InstanceMessage) Parent() *InstanceFrame { return n.parent }
func (n *InstanceMessage) StartByte() uint64     { return n.msg.StartByte }
func (n *InstanceMessage) EndByte() uint64       { return n.msg.EndByte }
func (n *InstanceMessage) ClassName() string     { return n.msg.ClassName }
func (n *InstanceMessage) BodyBytes() []byte     { return n.msg.BodyBytes }
func (n *InstanceMessage) Log() *Log             { return n.log }

// Repr returns the message's decoded representation, decoding and
// memoizing into the underlying Message on first access.
func (n *InstanceMessage) Repr() (Value, error) {
	if n.msg.Repr != nil {
		return *n.msg.Repr, nil
	}
	v, err := DecodeMessage(n.msg.ClassName, n.msg.BodyBytes, n.log.typeInfo)
	if err != nil {
		return Value{}, err
	}
	n.msg.Repr = &v
	return v, nil
}
