package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/discsync/discsync-server/internal/domain"
)

func (s *Server) registerStateRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listProcessingStates",
		Method:      http.MethodGet,
		Path:        "/api/v1/state",
		Summary:     "List processing state",
		Description: "Returns the latest processing summary of every entity type seen so far",
		Tags:        []string{"State"},
	}, s.handleListProcessingStates)

	huma.Register(s.api, huma.Operation{
		OperationID: "getProcessingState",
		Method:      http.MethodGet,
		Path:        "/api/v1/state/{entity_type}",
		Summary:     "Get processing state",
		Description: "Returns the latest processing summary of one entity type",
		Tags:        []string{"State"},
	}, s.handleGetProcessingState)
}

// ProcessingStatesOutput wraps the state listing for Huma.
type ProcessingStatesOutput struct {
	Body struct {
		States []*domain.ProcessingState `json:"states" doc:"One entry per entity type"`
	}
}

func (s *Server) handleListProcessingStates(ctx context.Context, _ *struct{}) (*ProcessingStatesOutput, error) {
	states, err := s.store.ListProcessingStates(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	if states == nil {
		states = []*domain.ProcessingState{}
	}

	out := &ProcessingStatesOutput{}
	out.Body.States = states
	return out, nil
}

// EntityTypePathInput selects an entity type by path.
type EntityTypePathInput struct {
	EntityType string `path:"entity_type" doc:"Entity type, e.g. artist or releases"`
}

// ProcessingStateOutput wraps a single state for Huma.
type ProcessingStateOutput struct {
	Body *domain.ProcessingState
}

func (s *Server) handleGetProcessingState(ctx context.Context, input *EntityTypePathInput) (*ProcessingStateOutput, error) {
	entityType, err := s.parseEntityType(input.EntityType, false)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	state, err := s.store.GetProcessingState(ctx, entityType)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &ProcessingStateOutput{Body: state}, nil
}
