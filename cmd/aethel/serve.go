package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/martinemde/aethel/agentloop"
	"github.com/martinemde/aethel/config"
	"github.com/martinemde/aethel/server"
	"github.com/martinemde/aethel/transcribe"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control loop with the websocket and HTTP transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	rt, err := c.buildRuntime(ctx, c.cfg.Loop.KernelConfig())
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := []server.Option{server.WithLogger(c.logger.Named("server"))}
	if tr := newTranscriber(c.cfg, c.logger); tr != nil {
		opts = append(opts, server.WithTranscriber(tr))
	}
	srv := server.New(rt.kernel, opts...)

	g, gctx := errgroup.WithContext(ctx)
	if rt.watcher != nil {
		rt.watcher.Start(gctx)
	}
	g.Go(func() error {
		return rt.kernel.Serve(gctx)
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx, c.cfg.Listen.Addr())
	})
	g.Go(func() error {
		logEvents(gctx, rt.kernel.Events(), c.logger.Named("events"))
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newTranscriber(cfg *config.Config, logger *zap.Logger) transcribe.Transcriber {
	if cfg.Transcribe.Provider != "openai" {
		return nil
	}
	key := cfg.Transcribe.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	return transcribe.NewOpenAI(key,
		transcribe.WithModel(cfg.Transcribe.Model),
		transcribe.WithBaseURL(cfg.Transcribe.BaseURL),
		transcribe.WithLogger(logger.Named("transcribe")),
	)
}

// logEvents mirrors kernel events into the debug log until ctx ends.
func logEvents(ctx context.Context, events <-chan agentloop.SessionEvent, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			logger.Debug(string(ev.Kind), zap.Any("data", ev.Data))
		}
	}
}
