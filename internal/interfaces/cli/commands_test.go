package cli

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func catalogHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[
			{"id":"llama-3.2-3b-instruct-q4_k_m","name":"Llama 3.2 3B","context_window":8192,"default":true},
			{"id":"llama-3.2-1b-instruct-q4_k_m","name":"Llama 3.2 1B","context_window":4096,"default":false}
		]}`)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"healthy","model_loaded":true,"version":"0.1.0","uptime_seconds":3700}`)
	})
	return mux
}

func newTestState(t *testing.T) *replState {
	t.Helper()
	srv := httptest.NewServer(catalogHandler())
	t.Cleanup(srv.Close)
	return &replState{
		client:    NewClient(srv.URL),
		renderer:  NewRenderer(80),
		model:     "llama-3.2-3b-instruct-q4_k_m",
		ctxWindow: 8192,
		serverURL: srv.URL,
	}
}

func TestParseSlashCommand(t *testing.T) {
	tests := []struct {
		input string
		name  string
		args  []string
	}{
		{"hello world", "", nil},
		{"/help", "help", nil},
		{"  /model llama-3.2-1b-instruct-q4_k_m  ", "model", []string{"llama-3.2-1b-instruct-q4_k_m"}},
		{"/q", "q", nil},
	}
	for _, tt := range tests {
		cmd := ParseSlashCommand(tt.input)
		if tt.name == "" {
			if cmd != nil {
				t.Errorf("ParseSlashCommand(%q) = %+v, want nil", tt.input, cmd)
			}
			continue
		}
		if cmd == nil {
			t.Errorf("ParseSlashCommand(%q) = nil, want %q", tt.input, tt.name)
			continue
		}
		if cmd.Name != tt.name || len(cmd.Args) != len(tt.args) {
			t.Errorf("ParseSlashCommand(%q) = %+v, want name %q args %v", tt.input, cmd, tt.name, tt.args)
		}
	}
}

func TestExecuteCommand_Quit(t *testing.T) {
	for _, name := range []string{"exit", "quit", "q"} {
		result := ExecuteCommand(&SlashCommand{Name: name}, &replState{})
		if !result.IsQuit {
			t.Errorf("/%s should quit", name)
		}
	}
}

func TestExecuteCommand_Reset(t *testing.T) {
	for _, name := range []string{"new", "reset", "clear"} {
		result := ExecuteCommand(&SlashCommand{Name: name}, &replState{})
		if !result.IsReset {
			t.Errorf("/%s should reset the conversation", name)
		}
		if result.Output == "" {
			t.Errorf("/%s should confirm the reset", name)
		}
	}
}

func TestExecuteCommand_Version(t *testing.T) {
	result := ExecuteCommand(&SlashCommand{Name: "version"}, &replState{})
	if !strings.Contains(result.Output, appVersion) {
		t.Errorf("version output %q should contain %q", result.Output, appVersion)
	}
}

func TestExecuteCommand_Unknown(t *testing.T) {
	result := ExecuteCommand(&SlashCommand{Name: "bogus"}, &replState{})
	if !strings.Contains(result.Output, "/bogus") {
		t.Errorf("unknown command output should name the command, got %q", result.Output)
	}
}

func TestExecuteCommand_ModelShowsCurrent(t *testing.T) {
	st := &replState{model: "llama-3.2-3b-instruct-q4_k_m"}
	result := ExecuteCommand(&SlashCommand{Name: "model"}, st)
	if !strings.Contains(result.Output, st.model) {
		t.Errorf("output should show the current model, got %q", result.Output)
	}
}

func TestExecuteCommand_ModelSwitch(t *testing.T) {
	st := newTestState(t)
	result := ExecuteCommand(&SlashCommand{Name: "model", Args: []string{"llama-3.2-1b-instruct-q4_k_m"}}, st)
	if !strings.Contains(result.Output, "Switched") {
		t.Fatalf("expected a switch confirmation, got %q", result.Output)
	}
	if st.model != "llama-3.2-1b-instruct-q4_k_m" {
		t.Errorf("model = %q after switch", st.model)
	}
	if st.ctxWindow != 4096 {
		t.Errorf("ctxWindow = %d, want 4096", st.ctxWindow)
	}
}

func TestExecuteCommand_ModelUnknownKeepsCurrent(t *testing.T) {
	st := newTestState(t)
	result := ExecuteCommand(&SlashCommand{Name: "model", Args: []string{"gpt-7"}}, st)
	if !strings.Contains(result.Output, "Unknown model") {
		t.Fatalf("expected a rejection, got %q", result.Output)
	}
	if !strings.Contains(result.Output, "llama-3.2-3b-instruct-q4_k_m") {
		t.Errorf("rejection should list available models, got %q", result.Output)
	}
	if st.model != "llama-3.2-3b-instruct-q4_k_m" {
		t.Errorf("model changed to %q on failed switch", st.model)
	}
}

func TestExecuteCommand_ModelsListsCatalog(t *testing.T) {
	st := newTestState(t)
	result := ExecuteCommand(&SlashCommand{Name: "models"}, st)
	if !strings.Contains(result.Output, "llama-3.2-3b-instruct-q4_k_m") ||
		!strings.Contains(result.Output, "llama-3.2-1b-instruct-q4_k_m") {
		t.Errorf("models output should list the catalog, got %q", result.Output)
	}
	if !strings.Contains(result.Output, "default") {
		t.Errorf("models output should mark the default, got %q", result.Output)
	}
}

func TestExecuteCommand_Status(t *testing.T) {
	st := newTestState(t)
	result := ExecuteCommand(&SlashCommand{Name: "status"}, st)
	for _, want := range []string{"healthy", "0.1.0", "1h01m", st.model} {
		if !strings.Contains(result.Output, want) {
			t.Errorf("status output should contain %q, got %q", want, result.Output)
		}
	}
}

func TestRenderBanner_WideAndCompact(t *testing.T) {
	info := BannerInfo{Model: "llama-3.2-3b-instruct-q4_k_m", CtxWindow: 8192, ServerURL: "http://127.0.0.1:8090"}

	wide := RenderBanner(info, 120)
	if !strings.Contains(wide, "█") {
		t.Error("wide banner should render the block logo")
	}
	if !strings.Contains(wide, "8.2k tokens") {
		t.Errorf("banner should show the context window, got %q", wide)
	}

	compact := RenderBanner(info, 40)
	if !strings.Contains(compact, "C H A T S A F E") {
		t.Error("narrow banner should fall back to the compact wordmark")
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := fmtTokens(812); got != "812" {
		t.Errorf("fmtTokens(812) = %q", got)
	}
	if got := fmtTokens(8192); got != "8.2k" {
		t.Errorf("fmtTokens(8192) = %q", got)
	}
	if got := fmtDur(450 * time.Millisecond); got != "450ms" {
		t.Errorf("fmtDur(450ms) = %q", got)
	}
	if got := fmtDur(2300 * time.Millisecond); got != "2.3s" {
		t.Errorf("fmtDur(2.3s) = %q", got)
	}
	if got := fmtUptime(42); got != "42s" {
		t.Errorf("fmtUptime(42) = %q", got)
	}
	if got := fmtUptime(150); got != "2m30s" {
		t.Errorf("fmtUptime(150) = %q", got)
	}
	if got := fmtUptime(3700); got != "1h01m" {
		t.Errorf("fmtUptime(3700) = %q", got)
	}
}
