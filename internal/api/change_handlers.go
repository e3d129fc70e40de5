package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/discsync/discsync-server/internal/domain"
	"github.com/discsync/discsync-server/internal/logger"
)

func (s *Server) registerChangeRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listPendingChanges",
		Method:      http.MethodGet,
		Path:        "/api/v1/changes",
		Summary:     "List pending changes",
		Description: "Returns unacknowledged changelog entries in detection order",
		Tags:        []string{"Changes"},
	}, s.handleListPendingChanges)

	huma.Register(s.api, huma.Operation{
		OperationID: "acknowledgeChanges",
		Method:      http.MethodPost,
		Path:        "/api/v1/changes/ack",
		Summary:     "Acknowledge changes",
		Description: "Marks changelog entries as processed. Already acknowledged or unknown ids are ignored",
		Tags:        []string{"Changes"},
	}, s.handleAcknowledgeChanges)

	huma.Register(s.api, huma.Operation{
		OperationID: "countPendingChanges",
		Method:      http.MethodGet,
		Path:        "/api/v1/changes/pending/count",
		Summary:     "Count pending changes",
		Description: "Returns the outbox backlog size, optionally for one entity type",
		Tags:        []string{"Changes"},
	}, s.handleCountPendingChanges)
}

// ListChangesInput filters the pending changes listing.
type ListChangesInput struct {
	EntityType string `query:"entity_type" doc:"Restrict to one entity type"`
	Limit      int    `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Maximum entries to return"`
}

// ChangesResponse lists changelog entries.
type ChangesResponse struct {
	Changes []*domain.ChangelogEntry `json:"changes" doc:"Pending entries, oldest first"`
	Count   int                      `json:"count" doc:"Number of entries returned"`
}

// ChangesOutput wraps the changes response for Huma.
type ChangesOutput struct {
	Body ChangesResponse
}

func (s *Server) handleListPendingChanges(ctx context.Context, input *ListChangesInput) (*ChangesOutput, error) {
	entityType, err := s.parseEntityType(input.EntityType, true)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	entries, err := s.store.PendingChanges(ctx, entityType, input.Limit)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	if entries == nil {
		entries = []*domain.ChangelogEntry{}
	}

	return &ChangesOutput{
		Body: ChangesResponse{Changes: entries, Count: len(entries)},
	}, nil
}

// AcknowledgeRequest lists changelog ids to acknowledge.
type AcknowledgeRequest struct {
	IDs []int64 `json:"ids" validate:"min=1,max=1000,dive,gt=0" doc:"Changelog entry ids"`
}

// AcknowledgeInput wraps the acknowledge request for Huma.
type AcknowledgeInput struct {
	Body AcknowledgeRequest
}

// AcknowledgeResponse reports how many entries changed state.
type AcknowledgeResponse struct {
	Acknowledged int `json:"acknowledged" doc:"Entries newly marked processed"`
}

// AcknowledgeOutput wraps the acknowledge response for Huma.
type AcknowledgeOutput struct {
	Body AcknowledgeResponse
}

func (s *Server) handleAcknowledgeChanges(ctx context.Context, input *AcknowledgeInput) (*AcknowledgeOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, s.fail(ctx, err)
	}

	n, err := s.store.Acknowledge(ctx, input.Body.IDs)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	if s.metrics != nil {
		s.metrics.ObserveAcknowledged(n)
	}

	logger.FromContext(ctx, s.logger).Debug("changes acknowledged", "requested", len(input.Body.IDs), "acknowledged", n)
	return &AcknowledgeOutput{Body: AcknowledgeResponse{Acknowledged: n}}, nil
}

// CountPendingInput selects the backlog to count.
type CountPendingInput struct {
	EntityType string `query:"entity_type" doc:"Restrict to one entity type"`
}

// CountPendingResponse is the outbox backlog size.
type CountPendingResponse struct {
	EntityType domain.EntityType `json:"entity_type,omitempty" doc:"Entity type counted, empty for all"`
	Pending    int               `json:"pending" doc:"Unacknowledged entries"`
}

// CountPendingOutput wraps the count response for Huma.
type CountPendingOutput struct {
	Body CountPendingResponse
}

func (s *Server) handleCountPendingChanges(ctx context.Context, input *CountPendingInput) (*CountPendingOutput, error) {
	entityType, err := s.parseEntityType(input.EntityType, true)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	n, err := s.store.CountPending(ctx, entityType)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	if s.metrics != nil {
		s.metrics.SetPending(entityType, n)
	}

	return &CountPendingOutput{
		Body: CountPendingResponse{EntityType: entityType, Pending: n},
	}, nil
}
