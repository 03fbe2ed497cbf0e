package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/martinemde/aethel/agentloop"
	"github.com/spf13/cobra"
)

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <request>",
		Short: "Run one request until it completes or nothing is left to do",
		Long: `Run submits one request and drives the loop until the session finishes or
goes idle. Clarification questions are printed and answered from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if c.sessionID == "" {
				c.cfg.SessionID = "run-" + uuid.New().String()[:8]
			}
			return c.run(ctx, strings.Join(args, " "))
		},
	}
}

func (c *cli) run(ctx context.Context, request string) error {
	kc := c.cfg.Loop.KernelConfig()
	kc.ExitWhenIdle = true
	rt, err := c.buildRuntime(ctx, kc)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.kernel.SubmitUserResponse(request); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.answerClarifications(ctx, cancel, rt.kernel)
	}()

	err = rt.kernel.Run(ctx)
	cancel()
	<-done
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	c.printOutcome(rt.kernel.Snapshot())
	return nil
}

// answerClarifications prints each clarification request and submits the
// next stdin line as the answer. EOF on stdin cancels the run.
func (c *cli) answerClarifications(ctx context.Context, cancel context.CancelFunc, k *agentloop.Kernel) {
	lines := bufio.NewScanner(c.stdin)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-k.Events():
			if !ok {
				return
			}
			if ev.Kind != agentloop.EventClarificationRequested {
				continue
			}
			fmt.Fprintf(c.stdout, "%s: %s\n> ", ev.Data["title"], ev.Data["message"])
			if !lines.Scan() {
				cancel()
				return
			}
			if err := k.SubmitUserResponse(lines.Text()); err != nil {
				fmt.Fprintf(c.stdout, "ignored: %v\n", err)
			}
		}
	}
}

func (c *cli) printOutcome(s *agentloop.SessionState) {
	fmt.Fprintf(c.stdout, "session %s: %s", s.Meta.SessionID, s.Meta.Status)
	if s.Meta.StatusReason != "" {
		fmt.Fprintf(c.stdout, " (%s)", s.Meta.StatusReason)
	}
	fmt.Fprintln(c.stdout)

	switch {
	case s.FinalOutput != nil:
		fmt.Fprintln(c.stdout, s.FinalOutput.Summary)
	case len(s.Steps) > 0:
		last := s.Steps[len(s.Steps)-1]
		fmt.Fprintf(c.stdout, "%s -> %s\n", last.Action, last.Result)
	}
}
