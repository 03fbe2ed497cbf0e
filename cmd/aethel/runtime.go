package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/martinemde/aethel/agentloop"
	"github.com/martinemde/aethel/config"
	"github.com/martinemde/aethel/knowledge"
	"github.com/martinemde/aethel/search"
	"github.com/martinemde/aethel/store"
	"github.com/martinemde/aethel/unifiedllm"
	"go.uber.org/zap"
)

// runtime is one assembled session.
type runtime struct {
	kernel       *agentloop.Kernel
	store        store.Store
	index        *knowledge.Index
	watcher      *knowledge.Watcher
	closeDecider func() error
}

func (r *runtime) Close() error {
	r.kernel.Close()
	var errs []error
	if r.watcher != nil {
		r.watcher.Stop()
	}
	if r.closeDecider != nil {
		errs = append(errs, r.closeDecider())
	}
	errs = append(errs, r.store.Close())
	return errors.Join(errs...)
}

// buildRuntime loads or creates the configured session and wires the
// kernel's collaborators.
func (c *cli) buildRuntime(ctx context.Context, kc agentloop.KernelConfig) (*runtime, error) {
	cfg, logger := c.cfg, c.logger

	st, err := store.Open(cfg.Store.Kind, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	state, err := agentloop.LoadOrCreate(ctx, st, cfg.SessionID)
	if err != nil {
		st.Close()
		return nil, err
	}

	rt := &runtime{
		store: st,
		index: knowledge.NewIndex(
			knowledge.WithMaxFileBytes(cfg.Knowledge.MaxFileBytes),
			knowledge.WithLogger(logger.Named("knowledge")),
		),
	}
	deps := agentloop.ToolDeps{
		Index: rt.index,
		Web: search.NewDuckDuckGo(
			search.WithEndpoint(cfg.Search.Endpoint),
			search.WithTimeout(cfg.Search.Timeout),
			search.WithMaxResults(cfg.Search.MaxResults),
		),
	}
	if cfg.Knowledge.Watch {
		w, err := knowledge.NewWatcher(rt.index, logger.Named("watcher"))
		if err != nil {
			logger.Warn("file watcher unavailable", zap.Error(err))
		} else {
			rt.watcher = w
			deps.Watcher = w
		}
	}

	reg := agentloop.NewActionRegistry(cfg.Loop.ToolTimeout)
	if err := agentloop.RegisterCoreTools(reg, deps); err != nil {
		rt.cleanup()
		return nil, err
	}

	workspace, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		rt.cleanup()
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	env := agentloop.NewLocalExecutionEnvironment(workspace)

	decider, closeDecider, err := c.newDecider(cfg, logger)
	if err != nil {
		rt.cleanup()
		return nil, err
	}
	rt.closeDecider = closeDecider

	rt.kernel, err = agentloop.NewKernel(state, reg, decider, env,
		agentloop.WithKernelConfig(kc),
		agentloop.WithPersister(st),
		agentloop.WithLogger(logger.Named("kernel")),
	)
	if err != nil {
		rt.cleanup()
		return nil, err
	}
	logger.Info("session ready",
		zap.String("session_id", cfg.SessionID),
		zap.String("status", string(state.Meta.Status)),
		zap.Int("steps", len(state.Steps)),
		zap.String("workspace", workspace))
	return rt, nil
}

// cleanup releases resources of a partially built runtime.
func (r *runtime) cleanup() {
	if r.watcher != nil {
		r.watcher.Stop()
	}
	if r.closeDecider != nil {
		_ = r.closeDecider()
	}
	_ = r.store.Close()
}

// newLLMDecider asks the configured provider through gollm.
func newLLMDecider(cfg *config.Config, logger *zap.Logger) (agentloop.DecisionSource, func() error, error) {
	model := cfg.LLM.Model
	if model == "" {
		model = unifiedllm.DefaultModel(cfg.LLM.Provider)
	}
	adapter, err := unifiedllm.NewGollmAdapter(cfg.LLM.Provider, cfg.LLM.APIKey,
		unifiedllm.WithModel(model),
		unifiedllm.WithMaxTokens(cfg.LLM.MaxTokens),
		unifiedllm.WithTemperature(cfg.LLM.Temperature),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s client: %w", cfg.LLM.Provider, err)
	}
	client := unifiedllm.NewClient(
		unifiedllm.WithProvider(cfg.LLM.Provider, adapter),
		unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(logger.Named("llm"))),
	)

	policy := unifiedllm.DefaultRetryPolicy()
	policy.MaxRetries = cfg.LLM.MaxRetries
	decider := agentloop.NewLLMDecisionSource(client,
		agentloop.WithDecisionModel(cfg.LLM.Provider, model),
		agentloop.WithDecisionMaxTokens(cfg.LLM.MaxTokens),
		agentloop.WithDecisionTemperature(cfg.LLM.Temperature),
		agentloop.WithDecisionRetry(policy),
		agentloop.WithDecisionLogger(logger.Named("decision")),
	)
	return decider, client.Close, nil
}
