// Package cached decorates an engine with a read-through cache of identity
// links. Entries are dropped whenever the task is claimed, completed or gets
// new candidate links; anything else only ages out by TTL.
package cached

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/linkflow/humantask/internal/engine"
	"github.com/linkflow/humantask/internal/store/cache"
)

const keyPrefix = "links:"

// Engine caches IdentityLinks of the wrapped engine.
type Engine struct {
	engine.Engine
	cache  *cache.MultiLevel
	logger *slog.Logger
}

// Wrap returns e with identity links cached in c.
func Wrap(e engine.Engine, c *cache.MultiLevel, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Engine: e, cache: c, logger: logger}
}

type linkRecord struct {
	Kind  engine.LinkKind `json:"kind"`
	Value string          `json:"value"`
}

func (e *Engine) IdentityLinks(ctx context.Context, taskID string) ([]engine.IdentityLink, error) {
	raw, err := e.cache.GetOrLoad(ctx, keyPrefix+taskID, func(ctx context.Context) ([]byte, error) {
		links, err := e.Engine.IdentityLinks(ctx, taskID)
		if err != nil {
			return nil, err
		}
		records := make([]linkRecord, len(links))
		for i, l := range links {
			records[i] = linkRecord{Kind: l.Kind, Value: l.Value}
		}
		return json.Marshal(records)
	})
	if err != nil {
		return nil, err
	}

	var records []linkRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		// A corrupt entry is dropped and the engine asked directly.
		e.invalidate(ctx, taskID)
		return e.Engine.IdentityLinks(ctx, taskID)
	}
	links := make([]engine.IdentityLink, len(records))
	for i, r := range records {
		links[i] = engine.IdentityLink{TaskID: taskID, Kind: r.Kind, Value: r.Value}
	}
	return links, nil
}

func (e *Engine) invalidate(ctx context.Context, taskID string) {
	if err := e.cache.Delete(ctx, keyPrefix+taskID); err != nil {
		e.logger.Warn("identity link cache invalidation failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) Claim(ctx context.Context, taskID, actorID string) error {
	defer e.invalidate(ctx, taskID)
	return e.Engine.Claim(ctx, taskID, actorID)
}

func (e *Engine) Complete(ctx context.Context, taskID string) error {
	defer e.invalidate(ctx, taskID)
	return e.Engine.Complete(ctx, taskID)
}

func (e *Engine) AddCandidateGroup(ctx context.Context, taskID, value string) error {
	defer e.invalidate(ctx, taskID)
	return e.Engine.AddCandidateGroup(ctx, taskID, value)
}

var _ engine.Engine = (*Engine)(nil)
