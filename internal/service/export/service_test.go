package export

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medpraxis/admin-api/internal/model"
	apperrors "github.com/medpraxis/admin-api/pkg/errors"
	"github.com/medpraxis/admin-api/pkg/logger"
)

type fakeSnapshotRepo struct {
	collections map[string][]model.JSONMap
	upserts     map[string][]model.JSONMap
}

func newFakeSnapshotRepo() *fakeSnapshotRepo {
	return &fakeSnapshotRepo{
		collections: make(map[string][]model.JSONMap),
		upserts:     make(map[string][]model.JSONMap),
	}
}

func (r *fakeSnapshotRepo) Collections(_ context.Context) ([]string, error) {
	var names []string
	for name := range r.collections {
		names = append(names, name)
	}
	return names, nil
}

func (r *fakeSnapshotRepo) DumpCollection(_ context.Context, collection string) ([]model.JSONMap, error) {
	records, ok := r.collections[collection]
	if !ok {
		return nil, apperrors.NotFound("collection", nil)
	}
	return records, nil
}

func (r *fakeSnapshotRepo) UpsertRecord(_ context.Context, collection string, record model.JSONMap) error {
	if _, ok := r.collections[collection]; !ok {
		return apperrors.NotFound("collection", nil)
	}
	r.upserts[collection] = append(r.upserts[collection], record)
	return nil
}

func newTestExportService(t *testing.T, repo *fakeSnapshotRepo) *Service {
	t.Helper()
	svc := NewService(repo, t.TempDir(), t.TempDir(), logger.NewLogger(nil))
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestExportCollectionCSVHeaderIsUnionIDFirst(t *testing.T) {
	repo := newFakeSnapshotRepo()
	repo.collections["accounts"] = []model.JSONMap{
		{"id": "a1", "name": "Jane", "email": "jane@example.com"},
		{"id": "a2", "name": "John", "phone": "555-0100"},
	}

	svc := newTestExportService(t, repo)
	path, err := svc.ExportCollection(context.Background(), "accounts", FormatCSV)
	require.NoError(t, err)
	assert.Contains(t, path, "accounts_20240101_120000.csv")

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"id", "email", "name", "phone"}, rows[0])

	byID := map[string][]string{rows[1][0]: rows[1], rows[2][0]: rows[2]}
	assert.Equal(t, []string{"a1", "jane@example.com", "Jane", ""}, byID["a1"])
	assert.Equal(t, []string{"a2", "", "John", "555-0100"}, byID["a2"])
}

func TestExportCollectionJSON(t *testing.T) {
	repo := newFakeSnapshotRepo()
	repo.collections["accounts"] = []model.JSONMap{{"id": "a1", "name": "Jane"}}

	svc := newTestExportService(t, repo)
	path, err := svc.ExportCollection(context.Background(), "accounts", FormatJSON)
	require.NoError(t, err)
	assert.Contains(t, path, "accounts_20240101_120000.json")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []model.JSONMap
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "Jane", records[0]["name"])
}

func TestExportCollectionEmptyIsNoData(t *testing.T) {
	repo := newFakeSnapshotRepo()
	repo.collections["accounts"] = nil

	svc := newTestExportService(t, repo)
	_, err := svc.ExportCollection(context.Background(), "accounts", FormatCSV)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestExportCollectionRejectsUnknownFormat(t *testing.T) {
	svc := newTestExportService(t, newFakeSnapshotRepo())
	_, err := svc.ExportCollection(context.Background(), "accounts", Format("xml"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))
}

func TestBackupAllWritesManifestAndCollections(t *testing.T) {
	repo := newFakeSnapshotRepo()
	repo.collections["accounts"] = []model.JSONMap{{"id": "a1", "name": "Jane"}}
	repo.collections["outbox_events"] = nil

	svc := newTestExportService(t, repo)
	path, err := svc.BackupAll(context.Background())
	require.NoError(t, err)

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	assert.True(t, names["manifest.json"])
	assert.True(t, names["accounts.json"])
	assert.True(t, names["outbox_events.json"])

	var manifest Manifest
	for _, f := range zr.File {
		if f.Name != "manifest.json" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		require.NoError(t, json.NewDecoder(rc).Decode(&manifest))
		rc.Close()
	}
	assert.Equal(t, "medpraxis", manifest.Database)
	assert.Equal(t, 2, manifest.TotalContainers)
	assert.Len(t, manifest.Containers, 2)
}

func TestBackupThenRestoreRoundTrip(t *testing.T) {
	source := newFakeSnapshotRepo()
	source.collections["accounts"] = []model.JSONMap{
		{"id": "a1", "name": "Jane"},
		{"id": "a2", "name": "John"},
	}

	svc := newTestExportService(t, source)
	archive, err := svc.BackupAll(context.Background())
	require.NoError(t, err)

	target := newFakeSnapshotRepo()
	target.collections["accounts"] = nil

	restoreSvc := newTestExportService(t, target)
	report, err := restoreSvc.RestoreAll(context.Background(), archive)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Restored["accounts"])
	assert.Nil(t, report.Failed)
	assert.Len(t, target.upserts["accounts"], 2)
}

func TestRestoreAllReportsUnknownCollection(t *testing.T) {
	source := newFakeSnapshotRepo()
	source.collections["legacy_data"] = []model.JSONMap{{"id": "x1"}}

	svc := newTestExportService(t, source)
	archive, err := svc.BackupAll(context.Background())
	require.NoError(t, err)

	target := newFakeSnapshotRepo()
	restoreSvc := newTestExportService(t, target)

	report, err := restoreSvc.RestoreAll(context.Background(), archive)
	require.NoError(t, err)
	assert.Contains(t, report.Failed, "legacy_data")
}

func TestRestoreAllRejectsArchiveWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/bad.zip"
	file, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(file)
	entry, err := zw.Create("accounts.json")
	require.NoError(t, err)
	_, err = entry.Write([]byte("[]"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, file.Close())

	svc := newTestExportService(t, newFakeSnapshotRepo())
	_, err = svc.RestoreAll(context.Background(), path)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))
}
