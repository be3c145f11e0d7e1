package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/everettbu/chatsafe/internal/domain/chat"
)

// ─── ANSI Helpers ───

const (
	reset    = "\033[0m"
	cyanBold = "\033[96m\033[1m"
	yellow   = "\033[93m"
	dimText  = "\033[90m"
	clearLn  = "\033[2K\r"
)

// Braille spinner frames (Gemini CLI style)
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// REPLConfig holds CLI runtime config
type REPLConfig struct {
	ServerURL  string
	Model      string
	Plain      bool
	InitPrompt string
}

// replState is the live session shared between the REPL loop and slash
// commands.
type replState struct {
	client    *Client
	renderer  *Renderer
	model     string
	ctxWindow int
	serverURL string
	plain     bool
}

// RunREPL starts the interactive REPL loop against a running gateway.
func RunREPL(client *Client, cfg REPLConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	models, err := client.Models(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("cannot reach gateway at %s: %w", cfg.ServerURL, err)
	}
	if len(models) == 0 {
		return fmt.Errorf("gateway at %s serves no models", cfg.ServerURL)
	}

	st := &replState{
		client:    client,
		serverURL: cfg.ServerURL,
		plain:     cfg.Plain || !term.IsTerminal(int(os.Stdout.Fd())),
	}
	st.model = cfg.Model
	if st.model == "" {
		st.model = models[0].ID
		for _, m := range models {
			if m.Default {
				st.model = m.ID
				break
			}
		}
	}
	found := false
	for _, m := range models {
		if m.ID == st.model {
			st.ctxWindow = m.ContextWindow
			found = true
			break
		}
	}
	if !found {
		ids := make([]string, 0, len(models))
		for _, m := range models {
			ids = append(ids, m.ID)
		}
		return fmt.Errorf("model %q not served by the gateway (available: %s)", st.model, strings.Join(ids, ", "))
	}

	w := termWidth()
	st.renderer = NewRenderer(w)

	fmt.Println(RenderBanner(BannerInfo{
		Model:     st.model,
		CtxWindow: st.ctxWindow,
		ServerURL: st.serverURL,
	}, w))

	// Readline for proper line editing (backspace, arrows, history)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\001\033[1;36m\002❯\001\033[0m\002 ",
		HistoryFile:     "",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer rl.Close()

	var history []chat.Message

	// Handle SIGTERM for clean exit
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Printf("\n%s👋 bye%s\n", dimText, reset)
		rl.Close()
		os.Exit(0)
	}()

	// If initial prompt provided, run it first
	if cfg.InitPrompt != "" {
		history = st.runTurn(cfg.InitPrompt, history)
	}

	// REPL loop
	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				fmt.Printf("%s👋 bye%s\n", dimText, reset)
				return nil
			}
			if err == io.EOF {
				fmt.Printf("\n%s👋 bye%s\n", dimText, reset)
				return nil
			}
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		// Slash command
		if cmd := ParseSlashCommand(input); cmd != nil {
			result := ExecuteCommand(cmd, st)
			if result.IsQuit {
				fmt.Printf("%s👋 bye%s\n", dimText, reset)
				return nil
			}
			if result.IsReset {
				history = nil
			}
			if result.Output != "" {
				fmt.Println(result.Output)
			}
			continue
		}

		// Chat turn
		history = st.runTurn(input, history)
	}
}

// ─── Chat Turn ───

// runTurn streams one completion and returns the updated history.
func (st *replState) runTurn(input string, history []chat.Message) []chat.Message {
	// Context with cancel for Ctrl+C during streaming
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT)
		defer signal.Stop(ch)
		select {
		case <-ch:
			cancel()
			fmt.Printf("\n%s⏹ interrupted%s\n", yellow, reset)
		case <-ctx.Done():
		}
	}()

	msgs := make([]chat.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, chat.Message{Role: chat.RoleUser, Content: input})

	start := time.Now()
	frames, err := st.client.Stream(ctx, &chat.ChatRequest{Model: st.model, Messages: msgs})
	if err != nil {
		fmt.Println(st.renderer.RenderError(err.Error()))
		return history
	}

	spinner := newSpinner()
	spinner.Update("waiting for " + st.model)

	var buf strings.Builder
	var firstToken time.Time
	errMsg := ""
	failed := false

	for frame := range frames {
		switch frame.Kind {
		case chat.FrameStart:

		case chat.FrameDelta:
			if firstToken.IsZero() {
				firstToken = time.Now()
			}
			buf.WriteString(frame.Content)
			if st.plain {
				spinner.Stop()
				fmt.Print(frame.Content)
			} else {
				spinner.Update(fmt.Sprintf("%s tokens", fmtTokens(buf.Len()/4)))
			}

		case chat.FrameDone:

		case chat.FrameError:
			failed = true
			errMsg = frame.ErrMessage
		}
	}
	spinner.Stop()

	answer := buf.String()
	if st.plain {
		// Ensure trailing newline
		if answer != "" && !strings.HasSuffix(answer, "\n") {
			fmt.Println()
		}
	} else if answer != "" {
		fmt.Println(st.renderer.RenderMarkdown(answer))
	}
	if failed {
		fmt.Println(st.renderer.RenderError(errMsg))
	}

	// Summary line
	if answer != "" && !failed {
		tokens := chat.EstimateTokens(answer)
		tps := 0.0
		if gen := time.Since(firstToken); !firstToken.IsZero() && gen > 0 {
			tps = float64(tokens) / gen.Seconds()
		}
		fmt.Printf("\n%s─── ~%s tokens · %s · %.0f tok/s · %s ───%s\n",
			dimText, fmtTokens(tokens), fmtDur(time.Since(start)), tps, st.model, reset)
	}

	// Update history
	if answer != "" {
		history = append(history,
			chat.Message{Role: chat.RoleUser, Content: input},
			chat.Message{Role: chat.RoleAssistant, Content: answer},
		)
	}

	return history
}

// ─── Braille Spinner ───

type asyncSpinner struct {
	mu      sync.Mutex
	running bool
	msg     string
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newSpinner() *asyncSpinner {
	return &asyncSpinner{}
}

func (s *asyncSpinner) Update(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msg = msg
	if !s.running {
		s.running = true
		s.stopCh = make(chan struct{})
		s.doneCh = make(chan struct{})
		go s.run()
	}
}

func (s *asyncSpinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
	fmt.Print(clearLn) // Clear spinner line
}

func (s *asyncSpinner) run() {
	defer close(s.doneCh)

	frame := 0
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			msg := s.msg
			s.mu.Unlock()

			f := spinnerFrames[frame%len(spinnerFrames)]
			fmt.Printf("%s%s%s %s%s%s", clearLn, cyanBold, f, dimText, msg, reset)
			frame++
		}
	}
}

// ─── Helpers ───

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func fmtTokens(n int) string {
	if n >= 1000 {
		return fmt.Sprintf("%.1fk", float64(n)/1000.0)
	}
	return fmt.Sprintf("%d", n)
}

func fmtDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func fmtUptime(secs uint64) string {
	d := time.Duration(secs) * time.Second
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", secs)
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
