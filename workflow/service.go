package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/songzhibin97/transition-engine/loader"
	"github.com/songzhibin97/transition-engine/storage"
	"github.com/songzhibin97/transition-engine/types"
)

// ErrGraphRequired is returned when the service has no graph id to work with.
var ErrGraphRequired = errors.New("graph id is required")

// Service binds an Engine to a Storage: graphs are loaded by id and every
// transition call is recorded as an ExecutionRecord. The record itself is
// never written; applying the returned mutations is the caller's job.
type Service struct {
	engine *Engine
	store  storage.Storage
	strict bool
}

// NewService creates a Service. A nil store falls back to MemoryStorage.
func NewService(engine *Engine, store storage.Storage) (*Service, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if store == nil {
		store = storage.NewMemoryStorage()
	}
	return &Service{engine: engine, store: store, strict: engine.strict}, nil
}

// Engine returns the engine used by the service.
func (s *Service) Engine() *Engine {
	return s.engine
}

// RegisterGraph validates g and persists it.
func (s *Service) RegisterGraph(ctx context.Context, g types.ProcessGraph) error {
	if err := loader.Validate(g, s.strict); err != nil {
		return err
	}
	if err := s.store.SaveGraph(ctx, g); err != nil {
		return fmt.Errorf("failed to save graph %s: %w", g.ID, err)
	}
	s.engine.logger.Info("graph registered", "graph_id", g.ID, "version", g.Version, "steps", len(g.Steps))
	return nil
}

// RegisterGraphs validates every graph and persists them as one batch. Nothing
// is stored when any graph is invalid or would go back a version.
func (s *Service) RegisterGraphs(ctx context.Context, gs []types.ProcessGraph) error {
	for _, g := range gs {
		if err := loader.Validate(g, s.strict); err != nil {
			return err
		}
	}
	if err := s.store.SaveGraphs(ctx, gs); err != nil {
		return fmt.Errorf("failed to save graphs: %w", err)
	}
	for _, g := range gs {
		s.engine.logger.Info("graph registered", "graph_id", g.ID, "version", g.Version, "steps", len(g.Steps))
	}
	return nil
}

// Graph loads a stored graph.
func (s *Service) Graph(ctx context.Context, graphID string) (types.ProcessGraph, error) {
	if graphID == "" {
		return types.ProcessGraph{}, ErrGraphRequired
	}
	g, err := s.store.GetGraph(ctx, graphID)
	if err != nil {
		return g, fmt.Errorf("failed to get graph: %w", err)
	}
	return g, nil
}

// Transition loads graphID, executes the transition and records its outcome.
// The error is non-nil only when the graph cannot be loaded or the audit
// record cannot be saved; a rejected transition is reported in the result.
func (s *Service) Transition(ctx context.Context, graphID string, req types.TransitionRequest, record types.Record, actor types.Actor) (*types.TransitionResult, error) {
	g, err := s.Graph(ctx, graphID)
	if err != nil {
		return nil, err
	}

	result := s.engine.ExecuteTransition(ctx, req, g, record, actor)

	rec := types.ExecutionRecord{
		ID:         result.ExecutionID,
		GraphID:    g.ID,
		RecordID:   record.String("id"),
		FromStepID: req.CurrentStepID,
		ActionID:   req.ActionID,
		ActorID:    actor.ID,
		Result:     result,
		CreatedAt:  s.engine.clock.Now(),
	}
	if err := s.store.SaveExecution(context.WithoutCancel(ctx), rec); err != nil {
		s.engine.logger.Error("failed to record execution", slog.String("execution_id", rec.ID), slog.Any("error", err))
		return result, fmt.Errorf("failed to save execution %s: %w", rec.ID, err)
	}
	return result, nil
}

// PermittedTransitions lists the actions of stepID whose conditions pass.
func (s *Service) PermittedTransitions(ctx context.Context, graphID, stepID string, record types.Record, actor types.Actor, execCtx map[string]interface{}) ([]types.Action, error) {
	g, err := s.Graph(ctx, graphID)
	if err != nil {
		return nil, err
	}
	return s.engine.PermittedTransitions(ctx, g, stepID, record, actor, execCtx), nil
}

// History returns the recorded executions of a graph, oldest first.
func (s *Service) History(ctx context.Context, graphID string) ([]types.ExecutionRecord, error) {
	if graphID == "" {
		return nil, ErrGraphRequired
	}
	return s.store.ListExecutions(ctx, graphID)
}

// Execution returns one recorded execution.
func (s *Service) Execution(ctx context.Context, id string) (types.ExecutionRecord, error) {
	return s.store.GetExecution(ctx, id)
}

// Prune removes executions older than retention and returns how many went.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int, error) {
	n, err := s.store.PruneExecutions(ctx, s.engine.clock.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	if n > 0 {
		s.engine.logger.Info("executions pruned", "count", n, "retention", retention.String())
	}
	return n, nil
}
