package normalize

import (
	"log/slog"
	"sync"

	"github.com/discsync/discsync-server/internal/domain"
)

// Normalizer canonicalizes raw records. It is stateless apart from remembering
// which unknown entity types it has already warned about.
type Normalizer struct {
	logger *slog.Logger
	warned sync.Map
}

// New creates a Normalizer. A nil logger discards warnings.
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Normalizer{logger: logger}
}

// Normalize returns the canonical form of raw for the given entity type.
// Unknown types are passed through and logged once per type.
func (n *Normalizer) Normalize(t domain.EntityType, raw any) Record {
	c, known := For(t)
	if !known {
		if _, seen := n.warned.LoadOrStore(t, struct{}{}); !seen {
			n.logger.Warn("unknown entity type, passing records through unmodified",
				"entity_type", t.String(),
			)
		}
	}
	return c.Canonicalize(Parse(raw))
}

// Normalize canonicalizes raw without logging.
func Normalize(t domain.EntityType, raw any) Record {
	c, _ := For(t)
	return c.Canonicalize(Parse(raw))
}
