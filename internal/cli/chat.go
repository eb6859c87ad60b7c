// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command.
//
// Command: chat
// Short:   Start an interactive streaming chat session
//
// Examples:
//   finchat chat                      Continue the current conversation
//   finchat chat --new                Start a fresh conversation
//   finchat chat --rag                Ground answers in uploaded documents
//   finchat chat --conversation 2     Continue conversation #2
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /new                Start a new conversation
//   /list               List conversations
//   /select <n|id>      Switch conversation
//   /history            Show the current conversation
//   /retry              Resend the pending message
//   /abandon            Give up on the pending message
//   /reconnect          Force a fresh connection
//   /status, /s         Show connection status
//   /rag [on|off]       Toggle document grounding
//   /quit, /q           Exit chat
//   Ctrl+C              Stop waiting for the current reply
//   Ctrl+D              Exit chat
//   Ctrl+Z, fg          Reconnects immediately on resume

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/morganforge/finchat/internal/chat"
	"github.com/morganforge/finchat/internal/config"
	"github.com/morganforge/finchat/internal/connection"
	"github.com/morganforge/finchat/internal/logging"
	"github.com/morganforge/finchat/internal/model"
	"github.com/morganforge/finchat/internal/stream"
)

var promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#22D3EE")).Bold(true)

// connectWait bounds how long chat waits for the first connection before
// showing the prompt anyway.
const connectWait = 5 * time.Second

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads one line of user input.
type lineReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// historyReader provides line editing and persistent input history.
type historyReader struct {
	line        *liner.State
	historyFile string
}

func newHistoryReader() *historyReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &historyReader{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *historyReader) ReadInput(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history (owner read/write only) and restores the terminal.
func (r *historyReader) Close() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

// plainReader reads piped input.
type plainReader struct {
	scanner *bufio.Scanner
}

func (r *plainReader) ReadInput(prompt string) (string, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *plainReader) Close() {}

// =============================================================================
// SESSION
// =============================================================================

type chatSession struct {
	opts   *rootOptions
	client *chat.Client
	input  lineReader
	useRAG bool
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newChatCommand(opts *rootOptions) *cobra.Command {
	var useRAG, fresh bool
	var conversation, format string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive streaming chat session",
		Example: `  finchat chat
  finchat chat --new --rag
  echo "What is my portfolio exposure?" | finchat chat`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			cfg := app.Config
			logger := logging.Component(app.Logger, "chat")

			store, err := openConversations(cmd.Context(), app)
			if err != nil {
				return err
			}
			switch {
			case fresh:
				store.NewConversation()
			case conversation != "":
				conv, err := resolveConversation(store.Snapshot(), conversation)
				if err != nil {
					return err
				}
				if err := store.Select(conv.ID); err != nil {
					return err
				}
			}

			if format == "" {
				format = cfg.Connection.WireFormat
			}
			wire, err := stream.ParseWireFormat(format)
			if err != nil {
				return &ExitError{Code: ExitConfigError, Err: err}
			}

			header := http.Header{}
			if token := app.API.Tokens().AccessToken(cmd.Context()); token != "" {
				header.Set("Authorization", "Bearer "+token)
			}
			client := chat.NewClient(store, connection.Options{
				URL:                 cfg.Server.ChatURL,
				KeepaliveInterval:   cfg.Connection.Keepalive(),
				HealthCheckInterval: cfg.Connection.HealthCheck(),
				ReconnectBase:       cfg.Connection.ReconnectBase(),
				ReconnectCap:        cfg.Connection.ReconnectCap(),
				DialTimeout:         cfg.Connection.HandshakeTimeout(),
				Dialer: &connection.WebSocketDialer{
					HandshakeTimeout: cfg.Connection.HandshakeTimeout(),
					Header:           header,
				},
			}, wire, logger)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if w := watchConfig(app, logger); w != nil {
				defer w.Close()
			}

			var input lineReader
			if IsTTY() {
				input = newHistoryReader()
			} else {
				input = &plainReader{scanner: bufio.NewScanner(cmd.InOrStdin())}
			}
			defer input.Close()

			s := &chatSession{
				opts:   opts,
				client: client,
				input:  input,
				useRAG: useRAG || cfg.UI.UseRAG,
				logger: logger,
			}
			return s.run(ctx)
		},
	}

	cmd.Flags().BoolVar(&useRAG, "rag", false, "Ground answers in uploaded documents")
	cmd.Flags().BoolVar(&fresh, "new", false, "Start a new conversation")
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "Conversation index or id to continue")
	cmd.Flags().StringVar(&format, "format", "", "Wire format: legacy, tagged or auto")
	return cmd
}

// watchConfig follows log level edits while the session runs.
func watchConfig(app *App, logger zerolog.Logger) *config.Watcher {
	if app.ConfigPath == "" {
		return nil
	}
	if _, err := os.Stat(app.ConfigPath); err != nil {
		return nil
	}
	w, err := config.Watch(app.ConfigPath, 0, func(cfg *config.Config, err error) {
		if err != nil {
			logger.Warn().Err(err).Msg("config reload failed")
			return
		}
		zerolog.SetGlobalLevel(logging.ParseLevel(cfg.Log.Level))
		logger.Info().Str("level", cfg.Log.Level).Msg("config reloaded")
	})
	if err != nil {
		logger.Debug().Err(err).Msg("config watch unavailable")
		return nil
	}
	return w
}

func (s *chatSession) run(ctx context.Context) error {
	out := s.opts.stdout

	var lastPhase model.Phase
	var phaseMu sync.Mutex
	unsubscribe := s.client.Conn.OnStatus(func(st connection.Status) {
		phaseMu.Lock()
		defer phaseMu.Unlock()
		if st.Phase == lastPhase {
			return
		}
		lastPhase = st.Phase
		line := RenderPhase(st.Phase)
		if st.Phase == model.PhaseConnecting && st.ReconnectAttempt > 0 {
			line += DimStyle.Render(fmt.Sprintf(" (attempt %d)", st.ReconnectAttempt))
		}
		fmt.Fprintln(s.opts.stderr, line)
	})
	defer unsubscribe()

	s.client.Start(ctx)
	defer s.client.Close()

	waitCtx, cancelWait := context.WithTimeout(ctx, connectWait)
	if err := s.client.Conn.WaitFor(waitCtx, model.PhaseConnected); err != nil {
		fmt.Fprintln(s.opts.stderr, WarningStyle.Render("Backend not reachable yet; still retrying in the background."))
	}
	cancelWait()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if s.cancelReply() {
				fmt.Fprintln(s.opts.stderr, "\n"+WarningStyle.Render("[Stopped waiting]"))
			}
		}
	}()

	stopResume := watchResume(ctx, s.client.Conn)
	defer stopResume()

	s.printWelcome()

	for {
		input, err := s.input.ReadInput(promptStyle.Render("you> "))
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, liner.ErrPromptAborted) {
				return errors.Wrap(err, "read input")
			}
			fmt.Fprintln(out)
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if !s.handleCommand(ctx, input) {
				return nil
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return nil
		}
		if err := s.send(ctx, input); err != nil {
			fmt.Fprintf(s.opts.stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
	}
}

// resumer is the part of the connection manager woken by foreground resumes.
type resumer interface {
	Resume()
}

// watchResume reconnects through conn whenever the process is continued
// after a stop. The returned func stops watching.
func watchResume(ctx context.Context, conn resumer) func() {
	if len(resumeSignals) == 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, resumeSignals...)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				conn.Resume()
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		cancel()
	}
}

func (s *chatSession) printWelcome() {
	conv := s.client.Store.Current()
	fmt.Fprintln(s.opts.stdout, TitleStyle.Render("finchat"))
	fmt.Fprintf(s.opts.stdout, "%s%s\n", RenderLabel("Conversation"), ValueStyle.Render(conv.Title))
	fmt.Fprintln(s.opts.stdout, DimStyle.Render("Type /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(s.opts.stdout)
}

// send hands text to the gate and streams the answer.
func (s *chatSession) send(ctx context.Context, text string) error {
	id, err := s.client.Send(text, chat.SendOptions{UseRAG: s.useRAG})
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrBlankInput):
		return nil
	case errors.Is(err, connection.ErrNotConnected), errors.Is(err, connection.ErrConnectionLost):
		fmt.Fprintln(s.opts.stderr, WarningStyle.Render("Not connected. Your message is kept; use /retry once connected or /abandon to drop it."))
		return nil
	default:
		return err
	}
	return s.awaitReply(ctx, id)
}

func (s *chatSession) awaitReply(ctx context.Context, id string) error {
	replyCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	out := s.opts.stdout
	fmt.Fprint(out, AssistantStyle.Render("assistant> "))
	msg, err := s.client.WaitReply(replyCtx, id, func(fragment string) {
		fmt.Fprint(out, fragment)
	})
	fmt.Fprintln(out)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	switch {
	case msg.Interrupted:
		fmt.Fprintln(s.opts.stderr, WarningStyle.Render("[Connection lost; the answer may be incomplete]"))
	case msg.Status == model.StatusFailed:
		fmt.Fprintln(s.opts.stderr, WarningStyle.Render("Sending failed. Use /retry or /abandon."))
	}
	fmt.Fprintln(out)
	return nil
}

func (s *chatSession) cancelReply() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleCommand runs a slash command and reports whether the session goes on.
func (s *chatSession) handleCommand(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	name, rest := strings.ToLower(fields[0]), strings.TrimSpace(strings.TrimPrefix(input, fields[0]))
	out, errOut := s.opts.stdout, s.opts.stderr
	store := s.client.Store

	report := func(err error) {
		if err != nil {
			fmt.Fprintf(errOut, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
	}

	switch name {
	case "/quit", "/q", "/exit":
		return false

	case "/help", "/h", "/?":
		printChatHelp(out)

	case "/new":
		store.NewConversation()
		fmt.Fprintf(out, "Started %q\n", store.Current().Title)

	case "/list", "/ls":
		renderConversationTable(out, conversationRows(store.Snapshot()), GetTerminalWidth())

	case "/select", "/open":
		conv, err := resolveConversation(store.Snapshot(), rest)
		if err != nil {
			report(err)
			break
		}
		report(store.Select(conv.ID))
		fmt.Fprintf(out, "Switched to %q\n", conv.Title)

	case "/history":
		printHistory(out, store.Current())

	case "/retry":
		id := store.CurrentID()
		if err := s.client.Gate.Retry(id); err != nil {
			if errors.Is(err, chat.ErrNothingPending) {
				fmt.Fprintln(out, DimStyle.Render("Nothing to retry."))
				break
			}
			report(err)
			break
		}
		report(s.awaitReply(ctx, id))

	case "/abandon":
		if err := s.client.Gate.Abandon(store.CurrentID()); err != nil {
			if errors.Is(err, chat.ErrNothingPending) {
				fmt.Fprintln(out, DimStyle.Render("Nothing pending."))
				break
			}
			report(err)
			break
		}
		fmt.Fprintln(out, "Dropped the pending message.")

	case "/reconnect":
		s.client.Conn.Reconnect()

	case "/status", "/s":
		printConnectionStatus(out, s.client, s.useRAG)

	case "/rag":
		switch strings.ToLower(rest) {
		case "on":
			s.useRAG = true
		case "off":
			s.useRAG = false
		case "":
			s.useRAG = !s.useRAG
		default:
			report(errors.Errorf("usage: /rag [on|off]"))
			return true
		}
		fmt.Fprintf(out, "Document grounding: %v\n", onOff(s.useRAG))

	default:
		fmt.Fprintf(errOut, "Unknown command %s. Type /help.\n", name)
	}
	return true
}

func printChatHelp(w io.Writer) {
	rows := [][2]string{
		{"/new", "Start a new conversation"},
		{"/list", "List conversations"},
		{"/select <n|id>", "Switch conversation"},
		{"/history", "Show the current conversation"},
		{"/retry", "Resend the pending message"},
		{"/abandon", "Give up on the pending message"},
		{"/reconnect", "Force a fresh connection"},
		{"/status", "Show connection status"},
		{"/rag [on|off]", "Toggle document grounding"},
		{"/quit", "Exit chat"},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "  %s %s\n", LabelStyle.Render(r[0]), r[1])
	}
}

func printHistory(w io.Writer, conv model.Conversation) {
	fmt.Fprintln(w, TitleStyle.Render(conv.Title))
	fmt.Fprintln(w, RenderSeparator(GetTerminalWidth()))
	for _, m := range conv.Messages {
		style := AssistantStyle
		if m.IsUser() {
			style = UserStyle
		}
		line := m.Text
		switch {
		case m.IsStreaming:
			line += DimStyle.Render(" …")
		case m.Interrupted:
			line += WarningStyle.Render(" [interrupted]")
		case m.Status == model.StatusFailed:
			line += ErrorStyle.Render(" [failed]")
		}
		fmt.Fprintf(w, "%s %s\n", style.Render(m.Sender.DisplayName()+":"), line)
	}
}

func printConnectionStatus(w io.Writer, c *chat.Client, useRAG bool) {
	st := c.Conn.Status()
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Connection"), RenderPhase(st.Phase))
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Endpoint"), c.Conn.URL())
	if st.ActiveConversationID != "" {
		fmt.Fprintf(w, "%s%s\n", RenderLabel("Streaming"), st.ActiveConversationID)
	}
	if st.ReconnectAttempt > 0 {
		fmt.Fprintf(w, "%s%d (next in %s)\n", RenderLabel("Reconnect"), st.ReconnectAttempt,
			time.Until(st.NextRetry).Round(100*time.Millisecond))
	}
	if st.LastError != nil {
		fmt.Fprintf(w, "%s%v\n", RenderLabel("Last error"), st.LastError)
	}
	if pending := c.Gate.Pending(); len(pending) > 0 {
		fmt.Fprintf(w, "%s%d\n", RenderLabel("Pending"), len(pending))
	}
	stats := c.Router.Stats()
	fmt.Fprintf(w, "%s%d fragments, %d replies\n", RenderLabel("Received"), stats.Fragments, stats.Ends)
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Documents"), onOff(useRAG))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
