// Package history reconstructs past participation from the engine's
// finished-task records.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/linkflow/humantask/internal/engine"
	"github.com/linkflow/humantask/internal/identity"
	"github.com/linkflow/humantask/internal/observability/metrics"
)

// Aggregator answers history queries per channel. There is no merged
// history query; callers combine channels themselves.
type Aggregator struct {
	engine  engine.HistoryQuerier
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAggregator creates an aggregator over q.
func NewAggregator(q engine.HistoryQuerier, logger *slog.Logger, m *metrics.Metrics) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{engine: q, logger: logger, metrics: m}
}

func filterFor(actorID string, channel engine.Channel) (engine.HistoryFilter, error) {
	f := engine.HistoryFilter{FinishedOnly: true}
	switch channel {
	case engine.ChannelAssignee:
		f.Assignee = actorID
	case engine.ChannelCandidateUser:
		f.CandidateUser = actorID
	case engine.ChannelCandidateGroup:
		f.CandidateGroup = actorID
	default:
		return f, fmt.Errorf("%w: history has no %s query", engine.ErrInvalidChannel, channel)
	}
	return f, nil
}

// CompletedTasksForActor returns the finished tasks the actor took part in
// through channel, in engine order.
func (a *Aggregator) CompletedTasksForActor(ctx context.Context, actorID string, channel engine.Channel) ([]*engine.HistoricTask, error) {
	filter, err := filterFor(actorID, channel)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(actorID) == "" {
		return []*engine.HistoricTask{}, nil
	}

	tasks, err := a.engine.ListHistoricTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	a.metrics.HistoryQueried(channel)
	if tasks == nil {
		tasks = []*engine.HistoricTask{}
	}
	return tasks, nil
}

// CompletedInstancesForActor returns the distinct instance ids of the
// actor's finished tasks on channel, in first-seen order.
func (a *Aggregator) CompletedInstancesForActor(ctx context.Context, actorID string, channel engine.Channel) ([]string, error) {
	tasks, err := a.CompletedTasksForActor(ctx, actorID, channel)
	if err != nil {
		return nil, err
	}

	set := identity.NewSet()
	for _, t := range tasks {
		set.Add(t.InstanceID)
	}

	a.logger.Debug("history aggregated",
		slog.String("actor_id", actorID),
		slog.String("channel", channel.String()),
		slog.Int("tasks", len(tasks)),
		slog.Int("instances", set.Len()),
	)
	return set.Values(), nil
}
