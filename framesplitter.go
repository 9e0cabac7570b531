package btlog

import (
	"bytes"
	"fmt"
)

// FrameSplitter walks a content chunk's message stream and groups messages
// into frames delimited by idFrameBegin/idFrameFinished pairs.
type FrameSplitter struct {
	s               *Stream
	end             int64
	ids             *MessageIDTable
	absMessageIndex uint64
	absFrameIndex   uint64
}

// NewFrameSplitter builds a splitter over s, which must already be
// positioned at the first byte after the content chunk's queue header; end
// is the absolute offset one past the last byte the frames may occupy.
func NewFrameSplitter(s *Stream, end int64, ids *MessageIDTable) *FrameSplitter {
	return &FrameSplitter{s: s, end: end, ids: ids}
}

// Done reports whether the splitter has reached the end of the content
// chunk, or the remaining bytes are shorter than a message header (trailing
// garbage to be truncated on the next index-engine append).
func (fs *FrameSplitter) Done() bool {
	return fs.end-fs.s.Tell() < 4
}

// AllMessages reconstructs, in chronological order, every message consumed
// while building f — its demoted dummies followed by its final message
// list — since dummies are always a chronological prefix of the messages
// that remain after the last nested-begin demotion.
func AllMessages(f *Frame) []Message {
	out := make([]Message, 0, len(f.Dummies)+len(f.Messages))
	out = append(out, f.Dummies...)
	out = append(out, f.Messages...)
	return out
}

// Next reads one frame. It returns (nil, nil) at a clean end of stream.
func (fs *FrameSplitter) Next() (*Frame, error) {
	if fs.Done() {
		return nil, nil
	}

	frame := &Frame{AbsIndex: fs.absFrameIndex}
	var messages []Message
	var dummies []Message

	for {
		if fs.end-fs.s.Tell() < 4 {
			return nil, &FrameStructureError{Offset: uint64(fs.s.Tell()), Reason: "truncated mid-message"}
		}
		msgStart := fs.s.Tell()
		hdr, err := fs.s.ReadMessageHeader()
		if err != nil {
			return nil, err
		}
		if int64(hdr.PayloadSize) > fs.end-fs.s.Tell() {
			return nil, &FrameStructureError{Offset: uint64(msgStart), Reason: "message payload crosses usedSize boundary"}
		}
		body, err := fs.s.Read(int(hdr.PayloadSize))
		if err != nil {
			return nil, err
		}
		msgEnd := fs.s.Tell()

		msg := Message{
			AbsIndex:  fs.absMessageIndex,
			LogID:     hdr.LogID,
			StartByte: uint64(msgStart),
			EndByte:   uint64(msgEnd),
			BodyBytes: body,
		}
		fs.absMessageIndex++

		if hdr.LogID == undefinedLogID {
			dummies = append(dummies, msg)
			return nil, &FrameStructureError{Offset: uint64(msgStart), Reason: "missing MessageID"}
		}
		if int(hdr.LogID) >= fs.ids.Count() {
			return nil, &FrameStructureError{Offset: uint64(msgStart), Reason: fmt.Sprintf("logId %d out of range", hdr.LogID)}
		}
		className, err := fs.ids.ClassName(hdr.LogID)
		if err != nil {
			return nil, &FrameStructureError{Offset: uint64(msgStart), Reason: err.Error()}
		}
		msg.ClassName = className

		messages = append(messages, msg)

		switch {
		case fs.ids.IsFrameFinished(hdr.LogID):
			if len(messages) > 0 && fs.ids.IsFrameBegin(messages[0].LogID) &&
				bytes.Equal(messages[0].BodyBytes, msg.BodyBytes) {
				name, err := threadNameOf(messages[0])
				if err != nil {
					return nil, err
				}
				frame.ThreadName = name
				frame.HasImage = messagesContainImage(messages)
				frame.Messages = messages
				frame.Dummies = dummies
				frame.StartByte = messages[0].StartByte
				frame.EndByte = messages[len(messages)-1].EndByte
				fs.absFrameIndex++
				return frame, nil
			}
			return nil, &FrameStructureError{Offset: uint64(msgStart), Reason: "frame finished without matching begin"}
		case fs.ids.IsFrameBegin(hdr.LogID) && len(messages) > 1:
			dummies = append(dummies, messages[:len(messages)-1]...)
			messages = messages[len(messages)-1:]
		}
	}
}

func threadNameOf(m Message) (string, error) {
	s := NewStream(m.BodyBytes)
	return s.ReadString()
}

func messagesContainImage(messages []Message) bool {
	for _, m := range messages {
		if m.ClassName == "CameraImage" || m.ClassName == "JPEGImage" {
			return true
		}
	}
	return false
}
