package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"fecingest/internal/blobsink"
	"fecingest/internal/config"
	"fecingest/internal/dispatch"
	"fecingest/internal/handoff"
	"fecingest/internal/ledger"
	"fecingest/internal/logging"
	"fecingest/internal/pipelines"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

// JSONMode reports whether --json was given.
func (c *commandContext) JSONMode() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// withLedger opens the run ledger for the duration of fn.
func (c *commandContext) withLedger(fn func(*config.Config, *ledger.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := ledger.Open(cfg)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()
	return fn(cfg, store)
}

// runtime bundles everything a dispatcher needs. close releases the ledger
// and the optional Postgres outbox.
type runtime struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *ledger.Store
	dispatcher *dispatch.Dispatcher
	closers    []func() error
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
}

func (c *commandContext) openRuntime(ctx context.Context, logger *slog.Logger, opts ...dispatch.Option) (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger}

	store, err := ledger.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	rt.store = store
	rt.closers = append(rt.closers, store.Close)

	sink, err := blobsink.New(cfg)
	if err != nil {
		rt.close()
		return nil, err
	}

	if strings.TrimSpace(cfg.Handoff.DatabaseURL) != "" {
		recorder, err := handoff.OpenPostgres(ctx, handoff.PostgresConfigFrom(cfg.Handoff))
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("open postgres outbox: %w", err)
		}
		rt.closers = append(rt.closers, recorder.Close)
		opts = append([]dispatch.Option{dispatch.WithExternal(handoff.NewPostgresOutbox(recorder, logger))}, opts...)
	}

	d := dispatch.New(cfg, store, logger, opts...)
	d.Register(pipelines.Build(cfg, sink, d, logger))
	rt.dispatcher = d
	return rt, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
