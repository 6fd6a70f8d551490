package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/c360studio/proconnect/flow"
	"github.com/c360studio/proconnect/otp"
)

const promptHelp = "Enter the 6-digit code, 'r' to resend, 'b' to go back to the form."

// promptOTP reads codes and commands line by line until the code is verified
// and the redirect fires, the input ends, or the user backs out.
func promptOTP(ctx context.Context, in io.Reader, out io.Writer, reg *flow.Registration, verified <-chan struct{}) error {
	sess := reg.Session()
	if sess == nil {
		return flow.ErrNoSession
	}
	fmt.Fprintf(out, "A code was sent to %s.\n%s\n", sess.Email(), promptHelp)

	readCtx, stop := context.WithCancel(ctx)
	defer stop()
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-readCtx.Done():
				return
			}
		}
	}()

	for {
		snap := sess.Snapshot()
		if snap.State == otp.StateExpired {
			fmt.Fprintf(out, "%s\ncode> ", otp.MsgExpired)
		} else {
			fmt.Fprintf(out, "[%s] code> ", snap.Countdown())
		}

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			reg.BackOut(context.Background())
			return ctx.Err()
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(out)
			reg.BackOut(ctx)
			return ErrAbandoned
		}

		switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
		case "":
			continue
		case "b", "back", "q", "quit":
			reg.BackOut(ctx)
			return ErrAbandoned
		case "r", "resend":
			err := reg.Resend(ctx)
			switch {
			case err == nil:
				fmt.Fprintln(out, sess.Snapshot().Notice)
			case errors.Is(err, otp.ErrResendLocked):
				fmt.Fprintln(out, "Resend is not available yet.")
			default:
				fmt.Fprintln(out, messageOr(sess.Snapshot().Error, err))
			}
		case "?", "h", "help":
			fmt.Fprintln(out, promptHelp)
		default:
			if !sess.Paste(strings.ReplaceAll(cmd, " ", "")) {
				fmt.Fprintln(out, otp.MsgIncomplete)
				continue
			}
			if err := reg.Verify(ctx); err != nil {
				fmt.Fprintln(out, messageOr(sess.Snapshot().Error, err))
				continue
			}
			fmt.Fprintln(out, otp.MsgVerified)
			select {
			case <-verified:
				fmt.Fprintf(out, "You can now log in with '%s login'.\n", appName)
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func messageOr(msg string, err error) string {
	if msg != "" {
		return msg
	}
	return err.Error()
}
