// Package pipelines assembles the concrete FETCH and STAGE stage chains.
package pipelines

import (
	"fmt"
	"log/slog"
	"sort"

	"fecingest/internal/blobsink"
	"fecingest/internal/config"
	"fecingest/internal/fetch"
	"fecingest/internal/handoff"
	"fecingest/internal/pipeline"
	"fecingest/internal/stage"
)

// Pipeline IDs.
const (
	FetchID = "fetch"
	StageID = "stage"
)

// Policies holds the retry policies applied to the chains.
type Policies struct {
	Stage   pipeline.RetryPolicy
	Handoff pipeline.RetryPolicy
}

// PoliciesFromConfig reads the [retry] section.
func PoliciesFromConfig(cfg *config.Config) Policies {
	return Policies{
		Stage: pipeline.RetryPolicy{
			Attempts:   cfg.Retry.Attempts,
			Delay:      cfg.RetryDelay(),
			Multiplier: cfg.Retry.Multiplier,
			MaxDelay:   cfg.RetryMaxDelay(),
		},
		Handoff: pipeline.RetryPolicy{
			Attempts:   cfg.Retry.HandoffAttempts,
			Delay:      cfg.RetryDelay(),
			Multiplier: cfg.Retry.Multiplier,
			MaxDelay:   cfg.RetryMaxDelay(),
		},
	}
}

// Fetch is start → setup_workspace → transform → handoff(stageTarget) → stop.
// The transform must leave its artifact at the workspace output path. A
// retried transform attempt starts from a freshly reset workspace.
func Fetch(t pipeline.Transform, trigger handoff.Trigger, stageTarget string, p Policies) pipeline.Definition {
	return pipeline.Definition{
		ID: FetchID,
		Stages: []pipeline.Stage{
			pipeline.Barrier(pipeline.StageStart),
			pipeline.SetupWorkspaceStage(p.Stage),
			pipeline.TransformStage(pipeline.RequireOutputArtifact(t), p.Stage).WithReset(pipeline.ResetWorkspace),
			pipeline.HandoffStage(trigger, stageTarget, p.Handoff),
			pipeline.Barrier(pipeline.StageStop),
		},
	}
}

// Stage is start → connectivity_check → transform(upload) →
// handoff(downstreamTarget) → stop.
func Stage(u *stage.Uploader, trigger handoff.Trigger, downstreamTarget string, p Policies) pipeline.Definition {
	return pipeline.Definition{
		ID: StageID,
		Stages: []pipeline.Stage{
			pipeline.Barrier(pipeline.StageStart),
			pipeline.CheckStage(pipeline.StageConnectivity, u.ConnectivityCheck, p.Stage),
			pipeline.TransformStage(u, p.Stage),
			pipeline.HandoffStage(trigger, downstreamTarget, p.Handoff),
			pipeline.Barrier(pipeline.StageStop),
		},
	}
}

// Catalog maps pipeline IDs to definitions.
type Catalog struct {
	defs map[string]pipeline.Definition
}

// NewCatalog indexes defs by ID.
func NewCatalog(defs ...pipeline.Definition) *Catalog {
	c := &Catalog{defs: make(map[string]pipeline.Definition, len(defs))}
	for _, def := range defs {
		c.defs[def.ID] = def
	}
	return c
}

// Get returns the definition for id.
func (c *Catalog) Get(id string) (pipeline.Definition, error) {
	def, ok := c.defs[id]
	if !ok {
		return pipeline.Definition{}, fmt.Errorf("unknown pipeline %q (known: %v)", id, c.IDs())
	}
	return def, nil
}

// IDs lists the known pipelines, sorted.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.defs))
	for id := range c.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Build wires both chains from configuration. trigger receives every
// hand-off; the dispatcher routes local targets and records the rest.
func Build(cfg *config.Config, sink blobsink.Sink, trigger handoff.Trigger, logger *slog.Logger) *Catalog {
	policies := PoliciesFromConfig(cfg)
	fetcher := fetch.NewFromConfig(cfg, logger)
	uploader := stage.NewUploader(sink, cfg.Storage.Namespace, "", logger)
	return NewCatalog(
		Fetch(fetcher, trigger, cfg.Pipelines.StageTarget, policies),
		Stage(uploader, trigger, cfg.Pipelines.DownstreamTarget, policies),
	)
}
