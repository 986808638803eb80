package revision

import (
	"time"

	"github.com/janhq/catalog-api/internal/domain/catalog"
	"github.com/janhq/catalog-api/internal/domain/patch"
)

// Observer receives revision outcomes for metrics.
type Observer interface {
	Submitted(kind patch.Kind, t catalog.EntityType, drafts int, err error, took time.Duration)
	Moderated(action patch.Action, kind patch.Kind, err error)
	RolledBack(step string)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) Submitted(patch.Kind, catalog.EntityType, int, error, time.Duration) {}
func (NopObserver) Moderated(patch.Action, patch.Kind, error)                           {}
func (NopObserver) RolledBack(string)                                                   {}
