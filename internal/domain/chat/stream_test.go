package chat

import "testing"

// === Frame constructors ===

func TestStartFrame(t *testing.T) {
	f := StartFrame("req-1", "llama-3.2-1b")
	if f.Kind != FrameStart {
		t.Errorf("Kind: got %v, want FrameStart", f.Kind)
	}
	if f.RequestID != "req-1" || f.Model != "llama-3.2-1b" {
		t.Errorf("identity fields wrong: %+v", f)
	}
	if f.Role != RoleAssistant {
		t.Errorf("Role: got %q, want assistant", f.Role)
	}
	if f.Terminal() {
		t.Error("Start frame must not be terminal")
	}
}

func TestDeltaFrame(t *testing.T) {
	f := DeltaFrame("hello")
	if f.Kind != FrameDelta || f.Content != "hello" {
		t.Errorf("unexpected delta frame: %+v", f)
	}
	if f.Terminal() {
		t.Error("Delta frame must not be terminal")
	}
}

func TestDoneFrame(t *testing.T) {
	u := Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	f := DoneFrame(FinishStop, u)
	if f.Kind != FrameDone || f.FinishReason != FinishStop {
		t.Errorf("unexpected done frame: %+v", f)
	}
	if f.Usage != u {
		t.Errorf("Usage: got %+v, want %+v", f.Usage, u)
	}
	if !f.Terminal() {
		t.Error("Done frame must be terminal")
	}
}

func TestErrorFrame(t *testing.T) {
	f := ErrorFrame("engine connection lost")
	if f.Kind != FrameError || f.ErrMessage != "engine connection lost" {
		t.Errorf("unexpected error frame: %+v", f)
	}
	if !f.Terminal() {
		t.Error("Error frame must be terminal")
	}
}

// === Kind names ===

func TestFrameKind_String(t *testing.T) {
	tests := []struct {
		kind FrameKind
		want string
	}{
		{FrameStart, "start"},
		{FrameDelta, "delta"},
		{FrameDone, "done"},
		{FrameError, "error"},
		{FrameKind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("String(%d): got %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}
