package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/medpraxis/admin-api/internal/model"
	"github.com/medpraxis/admin-api/internal/repository"
	apperrors "github.com/medpraxis/admin-api/pkg/errors"
)

// Logical collections covered by export, backup and restore.
var snapshotCollections = []string{"accounts", "outbox_events"}

type snapshotRepository struct {
	BaseRepository
}

func NewSnapshotRepository(base BaseRepository) repository.SnapshotRepository {
	return &snapshotRepository{base}
}

func (r *snapshotRepository) Collections(ctx context.Context) ([]string, error) {
	out := make([]string, len(snapshotCollections))
	copy(out, snapshotCollections)
	return out, nil
}

func (r *snapshotRepository) DumpCollection(ctx context.Context, collection string) ([]model.JSONMap, error) {
	if !isSnapshotCollection(collection) {
		return nil, apperrors.NotFound("collection", nil)
	}

	rows, err := r.db.QueryxContext(ctx, fmt.Sprintf("SELECT * FROM %s", pq.QuoteIdentifier(collection)))
	if err != nil {
		return nil, fmt.Errorf("failed to dump collection %s: %w", collection, err)
	}
	defer rows.Close()

	var records []model.JSONMap
	for rows.Next() {
		record := model.JSONMap{}
		if err := rows.MapScan(record); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		for key, value := range record {
			if b, ok := value.([]byte); ok {
				record[key] = string(b)
			}
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (r *snapshotRepository) UpsertRecord(ctx context.Context, collection string, record model.JSONMap) error {
	if !isSnapshotCollection(collection) {
		return apperrors.NotFound("collection", nil)
	}
	if _, ok := record["id"]; !ok {
		return apperrors.BadRequest("record has no id", nil)
	}

	columns := make([]string, 0, len(record))
	for column := range record {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	updates := make([]string, 0, len(columns))
	args := make([]interface{}, len(columns))
	for i, column := range columns {
		quoted[i] = pq.QuoteIdentifier(column)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = record[column]
		if column != "id" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoted[i], quoted[i]))
		}
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		pq.QuoteIdentifier(collection),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert record into %s: %w", collection, err)
	}
	return nil
}

func isSnapshotCollection(collection string) bool {
	for _, name := range snapshotCollections {
		if name == collection {
			return true
		}
	}
	return false
}
