package app

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"
)

// prompt runs the interactive command loop. Input lines are read on a
// separate goroutine so cancellation is never stuck behind a blocking read.
func (a *App) prompt(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.promptIn)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	a.printf("voxpipe ready. Type 'help' for commands.\n")
	a.printf("> ")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				// stdin closed (EOF / piped input exhausted)
				return errQuit
			}
			if err := a.dispatch(ctx, line); err != nil {
				return err
			}
			a.printf("> ")
		}
	}
}

// dispatch executes one prompt command. Returns errQuit on exit commands.
func (a *App) dispatch(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "":
		return nil

	case "listen", "l":
		if err := a.sess.StartListening(ctx); err != nil {
			a.printf("cannot start listening: %v\n", err)
			return nil
		}
		a.printf("listening (say 'stop' to end)\n")

	case "stop", "s":
		a.sess.StopListening()
		a.printf("stopped\n")

	case "say":
		if rest == "" {
			a.printf("usage: say <text>\n")
			return nil
		}
		if err := a.sess.SendText(ctx, rest); err != nil {
			a.printf("cannot send: %v\n", err)
			return nil
		}
		a.printf("sent\n")

	case "status", "st":
		st := a.sess.Status()
		a.printf("connected:  %v\n", st.Connected)
		a.printf("listening:  %v\n", st.Listening)
		a.printf("playback:   %s\n", st.Playback)
		a.printf("messages:   %d\n", st.Messages)
		a.printf("level:      %.2f\n", st.InputLevel)
		if st.Transcript != "" {
			a.printf("transcript: %s\n", st.Transcript)
		}

	case "history", "h":
		history := a.sess.History()
		if len(history) == 0 {
			a.printf("(no messages yet)\n")
			return nil
		}
		for _, msg := range history {
			a.printf("[%s] %-9s %s\n", msg.At.Format(time.TimeOnly), msg.Role+":", msg.Text)
		}

	case "help", "?":
		a.printf("commands:\n")
		a.printf("  listen        start streaming the microphone\n")
		a.printf("  stop          stop streaming\n")
		a.printf("  say <text>    submit a typed utterance\n")
		a.printf("  status        show the session state\n")
		a.printf("  history       show the conversation so far\n")
		a.printf("  quit          exit\n")

	case "quit", "q", "exit":
		return errQuit

	default:
		a.printf("unknown command %q (try 'help')\n", cmd)
	}
	return nil
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.promptOut, format, args...)
}
