package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/harun/korli/internal/daemon"
	"github.com/harun/korli/pkg/errkind"
	"github.com/harun/korli/pkg/orchestrator"
	"github.com/harun/korli/pkg/session"
)

var chatOpts struct {
	threadID        string
	level           string
	foreignLanguage string
	nativeLanguage  string
	tutorGender     string
	studentGender   string
	memory          bool
}

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Hold a tutoring session in the terminal",
		Long: `Hold a tutoring session in the terminal without starting the server.
Pass --thread to resume a stored thread. Type /quit to leave.`,
		RunE: runChatCmd,
	}

	f := cmd.Flags()
	f.StringVar(&chatOpts.threadID, "thread", "", "thread to resume (default: a new thread)")
	f.StringVar(&chatOpts.level, "level", "", "student level (A1-C2)")
	f.StringVar(&chatOpts.foreignLanguage, "foreign", "", "language being learned")
	f.StringVar(&chatOpts.nativeLanguage, "native", "", "student's native language")
	f.StringVar(&chatOpts.tutorGender, "tutor-gender", "", "tutor gender (male, female)")
	f.StringVar(&chatOpts.studentGender, "student-gender", "", "student gender (male, female)")
	f.BoolVar(&chatOpts.memory, "memory", false, "keep the session in memory only")
	return cmd
}

func runChatCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if chatOpts.memory {
		cfg.Storage.Driver = "memory"
	}
	// Logs would interleave with the conversation.
	if logLevel == "" {
		cfg.Logging.Console = false
	}
	cfg.Audio.Enabled = false
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	threadID := chatOpts.threadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	return runChat(ctx, d.GetEngine(), cmd.InOrStdin(), cmd.OutOrStdout(), threadID, session.InitParams{
		Level:           optional(chatOpts.level),
		ForeignLanguage: optional(chatOpts.foreignLanguage),
		NativeLanguage:  optional(chatOpts.nativeLanguage),
		TutorGender:     optional(chatOpts.tutorGender),
		StudentGender:   optional(chatOpts.studentGender),
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type turnRunner interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
}

// runChat opens the thread, then sends each input line as a student turn
// until /quit, end of input or ctx ends.
func runChat(ctx context.Context, engine turnRunner, in io.Reader, out io.Writer, threadID string, init session.InitParams) error {
	fmt.Fprintf(out, "thread %s\n", threadID)

	resp, err := engine.Run(ctx, orchestrator.Request{ThreadID: threadID, Init: init})
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	printTurns(out, resp)

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		resp, err := engine.Run(ctx, orchestrator.Request{ThreadID: threadID, UserMessage: &line})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(out, "error (%s): %v\n", errkind.KindOf(err), err)
			continue
		}
		printCorrection(out, resp.Correction)
		printTurns(out, resp)
	}
}

func printCorrection(out io.Writer, c *session.CorrectionRecord) {
	if c == nil {
		return
	}
	if !c.Changed {
		fmt.Fprintln(out, "  ✓ no corrections")
		return
	}
	fmt.Fprintf(out, "  ✎ %s", c.CorrectedMessage)
	if c.Translation != "" {
		fmt.Fprintf(out, " (%s)", c.Translation)
	}
	fmt.Fprintln(out)
}

func printTurns(out io.Writer, resp *orchestrator.Response) {
	for _, turn := range resp.NewTurns {
		if turn.Role != session.RoleAssistant {
			continue
		}
		fmt.Fprintf(out, "tutor: %s\n", turn.Content)
		if turn.Translation != "" {
			fmt.Fprintf(out, "       %s\n", turn.Translation)
		}
	}
	if resp.Compacted {
		fmt.Fprintln(out, "  (older messages summarized)")
	}
}
