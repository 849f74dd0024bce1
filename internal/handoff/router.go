package handoff

import (
	"context"
	"sort"
	"strings"

	"fecingest/internal/envelope"
	"fecingest/internal/services"
)

// Router maps target pipeline IDs to triggers.
type Router struct {
	routes   map[string]Trigger
	fallback Trigger
}

// NewRouter returns a router that sends unknown targets to fallback. A nil
// fallback makes unknown targets an error.
func NewRouter(fallback Trigger) *Router {
	return &Router{routes: make(map[string]Trigger), fallback: fallback}
}

// Route registers trigger for target and returns the router for chaining.
func (r *Router) Route(target string, trigger Trigger) *Router {
	r.routes[strings.TrimSpace(target)] = trigger
	return r
}

// Targets lists the explicitly routed targets.
func (r *Router) Targets() []string {
	targets := make([]string, 0, len(r.routes))
	for target := range r.routes {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets
}

func (r *Router) Trigger(ctx context.Context, target string, env envelope.Envelope) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return services.Wrap(services.ErrHandoff, "handoff", "route", "empty target pipeline", nil)
	}
	trigger, ok := r.routes[target]
	if !ok {
		trigger = r.fallback
	}
	if trigger == nil {
		return services.Wrap(services.ErrHandoff, "handoff", "route", "unknown target pipeline "+target, nil)
	}
	return trigger.Trigger(ctx, target, env)
}
