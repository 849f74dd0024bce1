package handoff

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"fecingest/internal/envelope"
	"fecingest/internal/services"
)

// Trigger submits env to the pipeline named target.
type Trigger interface {
	Trigger(ctx context.Context, target string, env envelope.Envelope) error
}

// Func adapts a function to Trigger.
type Func func(ctx context.Context, target string, env envelope.Envelope) error

func (f Func) Trigger(ctx context.Context, target string, env envelope.Envelope) error {
	return f(ctx, target, env)
}

// Record is one submitted hand-off.
type Record struct {
	Target         string
	Conf           map[string]string
	EnvelopeHash   string
	UpstreamRunID  string
	IdempotencyKey string
	CreatedAt      time.Time
}

// Envelope rebuilds the forwarded envelope from the wire format.
func (r Record) Envelope() envelope.Envelope {
	return envelope.FromConf(r.Conf)
}

// NewRecord builds the hand-off record for env. The upstream run ID comes
// from ctx and is empty for hand-offs submitted outside a run.
func NewRecord(ctx context.Context, target string, env envelope.Envelope) Record {
	upstream, _ := services.RunIDFromContext(ctx)
	hash := env.Hash()
	return Record{
		Target:         target,
		Conf:           env.Conf(),
		EnvelopeHash:   hash,
		UpstreamRunID:  upstream,
		IdempotencyKey: IdempotencyKey(target, hash, upstream),
		CreatedAt:      time.Now().UTC(),
	}
}

// IdempotencyKey is sha256(target | envelope hash | upstream run id).
func IdempotencyKey(target, envelopeHash, upstreamRunID string) string {
	sum := sha256.Sum256([]byte(target + "|" + envelopeHash + "|" + upstreamRunID))
	return hex.EncodeToString(sum[:])
}
