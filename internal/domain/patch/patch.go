// Package patch defines the moderation ledger: proposed changes to catalog
// entities and the state machine they move through.
package patch

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/janhq/catalog-api/internal/domain/catalog"
	"github.com/janhq/catalog-api/internal/domain/diff"
	revErrors "github.com/janhq/catalog-api/internal/domain/errors"
)

// Kind distinguishes patches that create an entity from those that edit one.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
)

func (k Kind) String() string {
	return string(k)
}

// ActionEntry records one transition in the patch history.
type ActionEntry struct {
	Action       Action    `json:"action"`
	ModeratorRef string    `json:"moderatorRef"`
	Label        string    `json:"label"`
	Note         string    `json:"note,omitempty"`
	From         Status    `json:"from"`
	To           Status    `json:"to"`
	Timestamp    time.Time `json:"timestamp"`
}

// Patch is a proposed change to exactly one target entity. BeforeChanges is
// the canonical snapshot the diff was computed against and Payload is the
// resolved after-snapshot.
type Patch struct {
	ID            string         `json:"id"`
	Kind          Kind           `json:"type"`
	Target        catalog.Ref    `json:"targetRef"`
	TargetPath    string         `json:"targetPath"`
	AuthorRef     string         `json:"authorRef"`
	Status        Status         `json:"status"`
	Changes       diff.Tree      `json:"changes"`
	BeforeChanges map[string]any `json:"beforeChanges"`
	Payload       map[string]any `json:"payload,omitempty"`
	BaseVersion   int64          `json:"baseVersion"`
	CreatedRefs   []catalog.Ref  `json:"createdRefs"`
	Actions       []ActionEntry  `json:"actions"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// NewID returns a fresh, time-ordered patch identifier.
func NewID() string {
	return ulid.Make().String()
}

// Params groups the fields needed to open a patch.
type Params struct {
	Kind        Kind
	Target      catalog.Ref
	AuthorRef   string
	Changes     diff.Tree
	Before      map[string]any
	Payload     map[string]any
	BaseVersion int64
	CreatedRefs []catalog.Ref
}

// New opens a pending patch.
func New(p Params, now time.Time) *Patch {
	created := append([]catalog.Ref(nil), p.CreatedRefs...)
	if created == nil {
		created = []catalog.Ref{}
	}
	return &Patch{
		ID:            NewID(),
		Kind:          p.Kind,
		Target:        p.Target,
		TargetPath:    p.Target.Path(),
		AuthorRef:     p.AuthorRef,
		Status:        StatusPending,
		Changes:       p.Changes,
		BeforeChanges: p.Before,
		Payload:       p.Payload,
		BaseVersion:   p.BaseVersion,
		CreatedRefs:   created,
		Actions:       []ActionEntry{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Apply moves the patch along the edge named by action and appends the
// matching history entry. The patch is left untouched on error.
func (p *Patch) Apply(action Action, actor, note string, now time.Time) (ActionEntry, error) {
	target, ok := action.Target()
	if !ok {
		return ActionEntry{}, revErrors.ValidationFailed("action", "unknown action "+action.String())
	}
	next, err := p.Status.TransitionTo(target)
	if err != nil {
		return ActionEntry{}, err
	}

	entry := ActionEntry{
		Action:       action,
		ModeratorRef: actor,
		Label:        action.Label(),
		Note:         note,
		From:         p.Status,
		To:           next,
		Timestamp:    now,
	}
	p.Status = next
	p.Actions = append(p.Actions, entry)
	p.UpdatedAt = now
	return entry, nil
}

// Clone returns a copy that can be mutated without affecting p. The change
// tree and snapshots are shared since they are never modified in place.
func (p *Patch) Clone() *Patch {
	c := *p
	c.CreatedRefs = append([]catalog.Ref(nil), p.CreatedRefs...)
	c.Actions = append([]ActionEntry(nil), p.Actions...)
	return &c
}
