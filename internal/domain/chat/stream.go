package chat

// Finish reasons reported in the terminal Done frame.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishContentFilter = "content_filter"
	FinishCancelled     = "cancelled"
	FinishError         = "error"
)

// FrameKind tags a StreamFrame variant.
type FrameKind int

const (
	FrameStart FrameKind = iota
	FrameDelta
	FrameDone
	FrameError
)

// String returns the frame kind name.
func (k FrameKind) String() string {
	switch k {
	case FrameStart:
		return "start"
	case FrameDelta:
		return "delta"
	case FrameDone:
		return "done"
	case FrameError:
		return "error"
	default:
		return "unknown"
	}
}

// StreamFrame is one event of a generation stream. Every stream is
// Start, zero or more Delta, then exactly one of Done or Error.
type StreamFrame struct {
	Kind FrameKind

	// Start
	RequestID string
	Model     string
	Role      string

	// Delta
	Content string

	// Done
	FinishReason string
	Usage        Usage

	// Error
	ErrMessage string
}

// Terminal reports whether the frame ends the stream.
func (f StreamFrame) Terminal() bool {
	return f.Kind == FrameDone || f.Kind == FrameError
}

// StartFrame builds the opening frame of a stream.
func StartFrame(requestID, model string) StreamFrame {
	return StreamFrame{
		Kind:      FrameStart,
		RequestID: requestID,
		Model:     model,
		Role:      RoleAssistant,
	}
}

// DeltaFrame builds a content frame.
func DeltaFrame(content string) StreamFrame {
	return StreamFrame{Kind: FrameDelta, Content: content}
}

// DoneFrame builds the successful terminal frame.
func DoneFrame(finishReason string, usage Usage) StreamFrame {
	return StreamFrame{Kind: FrameDone, FinishReason: finishReason, Usage: usage}
}

// ErrorFrame builds the failing terminal frame.
func ErrorFrame(message string) StreamFrame {
	return StreamFrame{Kind: FrameError, ErrMessage: message}
}
