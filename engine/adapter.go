package engine

import (
	"context"

	"mention-engine/models"
)

// AdapterConfig carries the small per-type configuration an Adapter
// needs; kept minimal since comment and message replies differ only in
// which Social operation they ultimately invoke, not in outbox shape.
type AdapterConfig struct {
	Type models.MentionType
}

// Adapter processes reply work for one Mention type, dispatched by a
// type-keyed registry instead of a type switch.
type Adapter interface {
	Config() AdapterConfig
	ProcessReplyTask(ctx context.Context, e *Engine, task *models.Task) error
}

// AdapterRegistry maps a MentionType to the Adapter that knows how to
// reply to it.
type AdapterRegistry struct {
	adapters map[models.MentionType]Adapter
}

func NewAdapterRegistry() *AdapterRegistry {
	r := &AdapterRegistry{adapters: map[models.MentionType]Adapter{}}
	r.Register(commentAdapter{})
	r.Register(messageAdapter{})
	return r
}

func (r *AdapterRegistry) Register(a Adapter) {
	r.adapters[a.Config().Type] = a
}

func (r *AdapterRegistry) For(t models.MentionType) (Adapter, bool) {
	a, ok := r.adapters[t]
	return a, ok
}

// commentAdapter replies to a platform comment via Social.ReplyToComment.
type commentAdapter struct{}

func (commentAdapter) Config() AdapterConfig { return AdapterConfig{Type: models.MentionTypeComment} }

func (commentAdapter) ProcessReplyTask(ctx context.Context, e *Engine, task *models.Task) error {
	return e.processReplyTaskCommon(ctx, task)
}

// messageAdapter replies to a direct message. The upstream aggregator
// currently exposes a single reply endpoint for both comments and
// messages; the adapter still exists as its own type so a future
// message-specific endpoint has a home without leaking into the
// mention table.
type messageAdapter struct{}

func (messageAdapter) Config() AdapterConfig { return AdapterConfig{Type: models.MentionTypeMessage} }

func (messageAdapter) ProcessReplyTask(ctx context.Context, e *Engine, task *models.Task) error {
	return e.processReplyTaskCommon(ctx, task)
}
