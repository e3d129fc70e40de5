package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/discsync/discsync-server/internal/domain"
	"github.com/discsync/discsync-server/internal/logger"
	"github.com/discsync/discsync-server/internal/store"
)

func (s *Server) registerRunRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listRuns",
		Method:      http.MethodGet,
		Path:        "/api/v1/runs",
		Summary:     "List runs",
		Description: "Returns processing runs, newest first",
		Tags:        []string{"Runs"},
	}, s.handleListRuns)

	huma.Register(s.api, huma.Operation{
		OperationID: "getRun",
		Method:      http.MethodGet,
		Path:        "/api/v1/runs/{id}",
		Summary:     "Get run",
		Tags:        []string{"Runs"},
	}, s.handleGetRun)

	huma.Register(s.api, huma.Operation{
		OperationID: "reapStaleRuns",
		Method:      http.MethodPost,
		Path:        "/api/v1/runs/reap",
		Summary:     "Fail stale runs",
		Description: "Marks every run still processing after older_than as failed. Runs are never reaped automatically unless the server is configured to",
		Tags:        []string{"Runs"},
	}, s.handleReapStaleRuns)
}

// ListRunsInput filters the run listing.
type ListRunsInput struct {
	EntityType string `query:"entity_type" doc:"Restrict to one entity type"`
	Status     string `query:"status" enum:"idle,processing,completed,failed" doc:"Restrict to one status"`
	Limit      int    `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Maximum runs to return"`
}

// RunsResponse lists processing runs.
type RunsResponse struct {
	Runs  []*domain.ProcessingRun `json:"runs"`
	Count int                     `json:"count"`
}

// RunsOutput wraps the run listing for Huma.
type RunsOutput struct {
	Body RunsResponse
}

func newRunsOutput(runs []*domain.ProcessingRun) *RunsOutput {
	if runs == nil {
		runs = []*domain.ProcessingRun{}
	}
	return &RunsOutput{Body: RunsResponse{Runs: runs, Count: len(runs)}}
}

func (s *Server) handleListRuns(ctx context.Context, input *ListRunsInput) (*RunsOutput, error) {
	entityType, err := s.parseEntityType(input.EntityType, true)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	runs, err := s.store.ListRuns(ctx, store.RunFilter{
		EntityType: entityType,
		Status:     domain.ProcessingStatus(input.Status),
		Limit:      input.Limit,
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return newRunsOutput(runs), nil
}

// RunPathInput selects a run by id.
type RunPathInput struct {
	ID string `path:"id" doc:"Run id"`
}

// RunOutput wraps a single run for Huma.
type RunOutput struct {
	Body *domain.ProcessingRun
}

func (s *Server) handleGetRun(ctx context.Context, input *RunPathInput) (*RunOutput, error) {
	run, err := s.store.GetRun(ctx, input.ID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &RunOutput{Body: run}, nil
}

// ReapRequest selects how old a processing run must be to be failed.
type ReapRequest struct {
	OlderThan string `json:"older_than" validate:"required,duration" doc:"Go duration, e.g. 6h"`
}

// ReapInput wraps the reap request for Huma.
type ReapInput struct {
	Body ReapRequest
}

func (s *Server) handleReapStaleRuns(ctx context.Context, input *ReapInput) (*RunsOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, s.fail(ctx, err)
	}
	olderThan, _ := time.ParseDuration(input.Body.OlderThan)

	reaped, err := s.store.ReapStaleRuns(ctx, olderThan)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	log := logger.FromContext(ctx, s.logger)
	for _, run := range reaped {
		log.Warn("stale run reaped", logger.KeyRunID, run.ID, logger.KeyEntityType, run.EntityType, "started_at", run.StartedAt)
	}
	return newRunsOutput(reaped), nil
}
