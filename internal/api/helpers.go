package api

import (
	"github.com/discsync/discsync-server/internal/domain"
)

// parseEntityType normalizes a path or query entity type and rejects malformed names.
// An empty value is allowed only when optional is set.
func (s *Server) parseEntityType(raw string, optional bool) (domain.EntityType, error) {
	t := domain.ParseEntityType(raw)
	tag := "required,entity_type"
	if optional {
		tag = "omitempty,entity_type"
	}
	if err := s.validator.Var("entity_type", t.String(), tag); err != nil {
		return "", err
	}
	return t, nil
}
