package export

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/medpraxis/admin-api/internal/model"
	"github.com/medpraxis/admin-api/internal/repository"
	apperrors "github.com/medpraxis/admin-api/pkg/errors"
	"github.com/medpraxis/admin-api/pkg/logger"
)

// ErrNoData is returned when a collection has nothing to export.
var ErrNoData = errors.New("no data found")

// Format selects the on-disk encoding for a collection export.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"

	timestampLayout = "20060102_150405"
	databaseName    = "medpraxis"
)

// Manifest describes a backup archive's contents.
type Manifest struct {
	Timestamp       time.Time `json:"timestamp"`
	Database        string    `json:"database"`
	Containers      []string  `json:"containers"`
	TotalContainers int       `json:"total_containers"`
}

// RestoreReport summarizes a restore run per collection.
type RestoreReport struct {
	Restored map[string]int    `json:"restored"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// Servicer exports, backs up and restores whole collections.
type Servicer interface {
	ExportCollection(ctx context.Context, collection string, format Format) (string, error)
	BackupAll(ctx context.Context) (string, error)
	RestoreAll(ctx context.Context, archivePath string) (*RestoreReport, error)
}

type Service struct {
	repo      repository.SnapshotRepository
	exportDir string
	backupDir string
	logger    *logger.Logger
	now       func() time.Time
}

// NewService writes collection exports under exportDir and backup archives
// under backupDir, creating both on demand.
func NewService(repo repository.SnapshotRepository, exportDir, backupDir string, logger *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		exportDir: exportDir,
		backupDir: backupDir,
		logger:    logger,
		now:       time.Now,
	}
}

// ExportCollection dumps one collection to exports/{collection}_{ts}.{csv|json}
// and returns the file path. An empty collection is ErrNoData, not an empty
// file.
func (s *Service) ExportCollection(ctx context.Context, collection string, format Format) (string, error) {
	if format != FormatCSV && format != FormatJSON {
		return "", apperrors.BadRequest(fmt.Sprintf("unsupported export format %q", format), nil)
	}

	records, err := s.repo.DumpCollection(ctx, collection)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", ErrNoData
	}

	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.%s", collection, s.now().Format(timestampLayout), format)
	path := filepath.Join(s.exportDir, name)

	switch format {
	case FormatCSV:
		err = writeCSV(path, records)
	case FormatJSON:
		err = writeJSON(path, records)
	}
	if err != nil {
		return "", err
	}

	s.logger.Info("collection exported", "collection", collection, "path", path)
	return path, nil
}

// BackupAll writes every collection as JSON into a zip archive together with
// a manifest, and returns the archive path.
func (s *Service) BackupAll(ctx context.Context) (string, error) {
	collections, err := s.repo.Collections(ctx)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	now := s.now()
	path := filepath.Join(s.backupDir, fmt.Sprintf("backup_%s.zip", now.Format(timestampLayout)))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create backup archive: %w", err)
	}
	defer file.Close()

	zw := zip.NewWriter(file)
	included := make([]string, 0, len(collections))

	for _, collection := range collections {
		records, err := s.repo.DumpCollection(ctx, collection)
		if err != nil {
			zw.Close()
			os.Remove(path)
			return "", fmt.Errorf("failed to dump %s: %w", collection, err)
		}
		if records == nil {
			records = []model.JSONMap{}
		}

		entry, err := zw.Create(collection + ".json")
		if err != nil {
			zw.Close()
			os.Remove(path)
			return "", fmt.Errorf("failed to add %s to archive: %w", collection, err)
		}
		enc := json.NewEncoder(entry)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			zw.Close()
			os.Remove(path)
			return "", fmt.Errorf("failed to encode %s: %w", collection, err)
		}
		included = append(included, collection)
	}

	manifest := Manifest{
		Timestamp:       now,
		Database:        databaseName,
		Containers:      included,
		TotalContainers: len(included),
	}
	entry, err := zw.Create("manifest.json")
	if err != nil {
		zw.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to add manifest: %w", err)
	}
	enc := json.NewEncoder(entry)
	enc.SetIndent("", "  ")
	if err := enc.Encode(manifest); err != nil {
		zw.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}

	if err := zw.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}

	s.logger.Info("backup created", "path", path, "containers", len(included))
	return path, nil
}

// RestoreAll upserts every record from the archive's collections, driven by
// the manifest. Each record is written on its own; a bad collection is
// reported, not rolled back.
func (s *Service) RestoreAll(ctx context.Context, archivePath string) (*RestoreReport, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, apperrors.BadRequest("cannot open backup archive", err)
	}
	defer zr.Close()

	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
	}

	manifestFile, ok := entries["manifest.json"]
	if !ok {
		return nil, apperrors.BadRequest("archive has no manifest.json", nil)
	}
	manifest, err := readManifest(manifestFile)
	if err != nil {
		return nil, err
	}

	report := &RestoreReport{
		Restored: make(map[string]int),
		Failed:   make(map[string]string),
	}

	for _, collection := range manifest.Containers {
		entry, ok := entries[collection+".json"]
		if !ok {
			report.Failed[collection] = "missing from archive"
			continue
		}

		records, err := readRecords(entry)
		if err != nil {
			report.Failed[collection] = err.Error()
			continue
		}

		restored := 0
		for _, record := range records {
			if err := s.repo.UpsertRecord(ctx, collection, record); err != nil {
				report.Failed[collection] = err.Error()
				break
			}
			restored++
		}
		report.Restored[collection] = restored
	}

	if len(report.Failed) == 0 {
		report.Failed = nil
	}

	s.logger.Info("restore finished", "archive", archivePath)
	return report, nil
}

func readManifest(f *zip.File) (*Manifest, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer rc.Close()

	var manifest Manifest
	if err := json.NewDecoder(rc).Decode(&manifest); err != nil {
		return nil, apperrors.BadRequest("malformed manifest.json", err)
	}
	return &manifest, nil
}

func readRecords(f *zip.File) ([]model.JSONMap, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var records []model.JSONMap
	if err := json.NewDecoder(rc).Decode(&records); err != nil {
		return nil, fmt.Errorf("malformed collection file: %w", err)
	}
	return records, nil
}

// writeCSV emits a header that is the union of all record fields, id first
// and the rest sorted, with blanks where a record lacks a field.
func writeCSV(path string, records []model.JSONMap) error {
	header := unionHeader(records)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	row := make([]string, len(header))
	for _, record := range records {
		for i, column := range header {
			row[i] = fieldString(record[column])
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

func writeJSON(path string, records []model.JSONMap) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func unionHeader(records []model.JSONMap) []string {
	seen := make(map[string]bool)
	for _, record := range records {
		for column := range record {
			seen[column] = true
		}
	}

	hasID := seen["id"]
	delete(seen, "id")

	columns := make([]string, 0, len(seen)+1)
	for column := range seen {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	if hasID {
		columns = append([]string{"id"}, columns...)
	}
	return columns
}

func fieldString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format(time.RFC3339)
	case float64:
		return formatFloat(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
