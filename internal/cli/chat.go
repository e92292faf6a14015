package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/harun/icetop/pkg/agent"
	"github.com/harun/icetop/pkg/session"
	"github.com/harun/icetop/pkg/toolexecutor"
)

var (
	chatCatalog string
	chatSession string
	chatPlain   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with a catalog",
	Long: `Chat with an Iceberg catalog. With a message argument one question is
answered and the command exits; otherwise an interactive session starts.
Type /reset to clear the conversation and /exit to quit.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatCatalog, "catalog", "c", "", "catalog name from the pyiceberg file (required)")
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", session.DefaultSessionID, "conversation id")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "print answers without markdown rendering")
	_ = chatCmd.MarkFlagRequired("catalog")
	rootCmd.AddCommand(chatCmd)
}

// chatBackend is the part of agent.Service the REPL needs.
type chatBackend interface {
	Send(ctx context.Context, req agent.SendRequest, progress toolexecutor.ProgressFunc) (string, error)
	Reset(id string) int
}

type replOptions struct {
	Catalog   string
	SessionID string
	Render    func(string) string
	Prompt    bool
}

var (
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	toolStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	noticeStyle   = lipgloss.NewStyle().Faint(true)
	promptStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
)

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := newDaemon(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	opts := replOptions{
		Catalog:   chatCatalog,
		SessionID: chatSession,
		Render:    newRenderer(chatPlain || !isTerminal(cmd.OutOrStdout())),
		Prompt:    isTerminal(cmd.InOrStdin()),
	}

	if len(args) > 0 {
		return askOnce(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), d.Service(), opts, strings.Join(args, " "))
	}
	return runREPL(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), d.Service(), opts)
}

func askOnce(ctx context.Context, out, errOut io.Writer, backend chatBackend, opts replOptions, message string) error {
	reply, err := backend.Send(ctx, agent.SendRequest{
		SessionID: opts.SessionID,
		Catalog:   opts.Catalog,
		Message:   message,
	}, progressPrinter(errOut))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, opts.render(reply))
	return nil
}

// runREPL reads one message per line until EOF, /exit or ctx is cancelled.
// Answers go to out; progress and notices go to errOut.
func runREPL(ctx context.Context, in io.Reader, out, errOut io.Writer, backend chatBackend, opts replOptions) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	fmt.Fprintln(errOut, noticeStyle.Render(fmt.Sprintf("Chatting with catalog %q (session %s). /reset clears, /exit quits.", opts.Catalog, session.NormalizeID(opts.SessionID))))

	for {
		if opts.Prompt {
			fmt.Fprint(errOut, promptStyle.Render("› "))
		}
		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			backend.Reset(session.NormalizeID(opts.SessionID))
			fmt.Fprintln(errOut, noticeStyle.Render("Conversation cleared."))
			continue
		}

		err := askOnce(ctx, out, errOut, backend, opts, line)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(errOut, noticeStyle.Render("error: "+err.Error()))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (o replOptions) render(text string) string {
	if o.Render == nil {
		return text
	}
	return o.Render(text)
}

func progressPrinter(w io.Writer) toolexecutor.ProgressFunc {
	return func(ev toolexecutor.ProgressEvent) {
		if line := formatProgress(ev); line != "" {
			fmt.Fprintln(w, line)
		}
	}
}

func formatProgress(ev toolexecutor.ProgressEvent) string {
	switch ev.Type {
	case toolexecutor.EventThinking:
		return progressStyle.Render("… " + ev.Message)
	case toolexecutor.EventToolStart:
		return toolStyle.Render("→ "+ev.Tool) + progressStyle.Render(formatArgs(ev.Args))
	case toolexecutor.EventToolDone:
		return progressStyle.Render("✓ " + ev.Tool)
	}
	return ""
}

func formatArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// newRenderer returns a markdown renderer, or the identity when plain is set
// or no terminal renderer can be built.
func newRenderer(plain bool) func(string) string {
	identity := func(s string) string { return s }
	if plain {
		return identity
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return identity
	}
	return func(s string) string {
		rendered, err := r.Render(s)
		if err != nil {
			return s
		}
		return strings.TrimRight(rendered, "\n")
	}
}

func isTerminal(v interface{}) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
