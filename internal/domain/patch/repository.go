package patch

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPatchNotFound = errors.New("patch not found")
	// ErrStatusChanged is returned by Update when the stored status no longer
	// matches the expected one.
	ErrStatusChanged = errors.New("patch status changed concurrently")
)

// Repository defines the interface for patch persistence.
type Repository interface {
	Create(ctx context.Context, p *Patch) error
	FindByID(ctx context.Context, id string) (*Patch, error)
	// Update writes p only if the stored status still equals expected.
	Update(ctx context.Context, p *Patch, expected Status) error
	Delete(ctx context.Context, id string) error
	// DeleteTerminalBefore removes accepted and rejected patches last touched
	// before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
