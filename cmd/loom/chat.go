package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/inference/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const maxLineSize = 1024 * 1024

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Start an interactive branching chat",
		Long: `Start an interactive chat. Lines starting with ! are commands:

  !rw [id|index|-1]  rewind to the parent, a path index or a message id
  !fw [i]            move to child i
  !alt [i]           cycle to the next sibling, or select sibling i
  !gen               generate another reply below the cursor
  !edit <text>       replace the current message with an edited copy
  !mu                merge the current message into its parent
  !save <name> [-f]  checkpoint the cursor
  !load [name]       resume a checkpoint, or the last conversation
  !new               start a new conversation
  !history           print the active path
  !quit              exit`,
		RunE: runChat,
	}
	cmd.Flags().String("session", session.DefaultSessionID, "Session id")
	cmd.Flags().Bool("once", false, "Exit after answering the message given as arguments")
	cmd.Flags().Bool("watch", false, "Reload settings when the settings files change")
	cmd.Flags().Bool("resume", false, "Resume the last conversation")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close()
	}()

	sessionID, _ := cmd.Flags().GetString("session")
	once, _ := cmd.Flags().GetBool("once")
	watch, _ := cmd.Flags().GetBool("watch")
	resume, _ := cmd.Flags().GetBool("resume")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	if watch {
		eg.Go(func() error {
			return watchSettings(ctx, a.settings)
		})
	}

	eg.Go(func() error {
		defer cancel()
		r := &repl{
			app:       a,
			sessionID: sessionID,
			out:       cmd.OutOrStdout(),
		}
		if resume {
			r.handle(ctx, "!load")
		}
		if len(args) > 0 {
			r.handle(ctx, strings.Join(args, " "))
			if once {
				return nil
			}
		}
		return r.run(ctx, cmd.InOrStdin())
	})

	return eg.Wait()
}

type repl struct {
	app       *app
	sessionID string
	out       io.Writer
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "!quit", "!exit", "!q":
			return nil
		case "!history", "!h":
			r.printHistory(ctx)
			continue
		}
		r.handle(ctx, line)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// handle runs one line. Ctrl-C interrupts the running turn only.
func (r *repl) handle(ctx context.Context, line string) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	streamed := false
	res, err := r.app.sessions.HandleInput(turnCtx, r.sessionID, line, session.InputOptions{
		OnToken: func(candidate int, delta string) {
			if candidate != 0 {
				return
			}
			if !streamed {
				fmt.Fprint(r.out, "\n")
				streamed = true
			}
			fmt.Fprint(r.out, delta)
		},
	})
	if streamed {
		fmt.Fprint(r.out, "\n\n")
	}
	if err != nil {
		log.Debug().Err(err).Msg("turn failed")
		fmt.Fprintf(r.out, "error: %v\n", err)
	}
	if res == nil {
		return
	}

	switch res.Type {
	case session.ResultMessage:
		if res.Interrupted {
			fmt.Fprintln(r.out, "(interrupted)")
		}
		if len(res.Replies) > 1 {
			fmt.Fprintf(r.out, "(%d replies, !alt to cycle)\n", len(res.Replies))
		}
	case session.ResultCommand:
		if res.Text != "" {
			fmt.Fprintln(r.out, res.Text)
		}
		if res.OK && res.Command != "save" {
			r.printCursor(ctx)
		}
	}
}

func (r *repl) printCursor(ctx context.Context) {
	h, err := r.app.sessions.History(ctx, r.sessionID)
	if err != nil || len(h.Path) == 0 {
		return
	}
	current := h.Path[len(h.Path)-1]
	siblings := conversation.Siblings(h.Messages, current.ID)
	fmt.Fprintf(r.out, "[%d/%d] %s\n", conversation.SiblingIndex(h.Messages, current.ID)+1, len(siblings), current)
}

func (r *repl) printHistory(ctx context.Context) {
	h, err := r.app.sessions.History(ctx, r.sessionID)
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	if len(h.Path) == 0 {
		fmt.Fprintln(r.out, "(empty conversation)")
		return
	}
	for i, m := range h.Path {
		siblings := conversation.Siblings(h.Messages, m.ID)
		marker := ""
		if len(siblings) > 1 {
			marker = fmt.Sprintf(" (%d/%d)", conversation.SiblingIndex(h.Messages, m.ID)+1, len(siblings))
		}
		fmt.Fprintf(r.out, "%d%s %s\n", i, marker, m)
	}
}
