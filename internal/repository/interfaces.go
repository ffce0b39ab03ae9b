package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/medpraxis/admin-api/internal/model"
)

// KindCount is one row of the accounts-by-kind breakdown.
type KindCount struct {
	Kind   model.AccountKind `db:"kind"`
	Active bool              `db:"active"`
	Count  int               `db:"count"`
}

// AccountRepository owns the accounts table. Multi-record writes run inside a
// single transaction; single-record writes rely on the store's own atomicity.
type AccountRepository interface {
	Create(ctx context.Context, account *model.Account) error
	Get(ctx context.Context, id uuid.UUID) (*model.Account, error)
	Update(ctx context.Context, account *model.Account) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, kind model.AccountKind) ([]*model.Account, error)

	// CreateFamily writes a doctor and its dependent accounts plus an outbox
	// event in one transaction.
	CreateFamily(ctx context.Context, accounts []*model.Account, event *model.OutboxEvent) error

	// LinkLabAccount creates the lab account and rewrites the doctor's
	// associate links in one transaction.
	LinkLabAccount(ctx context.Context, lab, doctor *model.Account) error

	AccessCodeExists(ctx context.Context, code string) (bool, error)
	CountByKind(ctx context.Context) ([]KindCount, error)
}

// OutboxRepository owns the outbox_events table.
type OutboxRepository interface {
	Create(ctx context.Context, event *model.OutboxEvent) error
	// ClaimPendingEvents atomically moves up to limit pending events to
	// PROCESSING and returns them, so concurrent workers never pick up the
	// same event.
	ClaimPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error
}

// SnapshotRepository exposes whole-collection reads and writes for export,
// backup and restore.
type SnapshotRepository interface {
	Collections(ctx context.Context) ([]string, error)
	DumpCollection(ctx context.Context, collection string) ([]model.JSONMap, error)
	UpsertRecord(ctx context.Context, collection string, record model.JSONMap) error
}
