package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/discsync/discsync-server/internal/domain"
)

func (s *Server) registerRecordRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getRecordState",
		Method:      http.MethodGet,
		Path:        "/api/v1/records/{entity_type}/{id}",
		Summary:     "Get record state",
		Description: "Returns the stored fingerprint of one record, including tombstoned records",
		Tags:        []string{"Records"},
	}, s.handleGetRecordState)
}

// RecordPathInput selects a record by entity type and id.
type RecordPathInput struct {
	EntityType string `path:"entity_type" doc:"Entity type"`
	ID         string `path:"id" doc:"Record id as found in the source"`
}

// RecordStateOutput wraps a record state for Huma.
type RecordStateOutput struct {
	Body *domain.RecordState
}

func (s *Server) handleGetRecordState(ctx context.Context, input *RecordPathInput) (*RecordStateOutput, error) {
	entityType, err := s.parseEntityType(input.EntityType, false)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	rec, err := s.store.GetRecordState(ctx, entityType, input.ID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &RecordStateOutput{Body: rec}, nil
}
