// Package checkpoint persists job progress so an interrupted extraction can be
// resumed. A checkpoint is two artifacts: a CSV snapshot of the dataset and a
// JSON metadata record that references it.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/moby/sys/atomicwriter"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/data-mapper/internal/dataset"
	"github.com/sells-group/data-mapper/internal/model"
)

// ErrNotFound is returned by Load when no complete checkpoint exists.
var ErrNotFound = errors.New("checkpoint: not found")

// Checkpoint is a restorable (cursor, mapping, dataset) triple.
type Checkpoint struct {
	Cursor      int
	SourceField string
	Mapping     model.FieldMapping
	Data        *dataset.Table
	SavedAt     time.Time
}

// Store persists and restores checkpoints.
type Store interface {
	Save(cursor int, sourceField string, mapping model.FieldMapping, data *dataset.Table) error
	Load(ctx context.Context) (*Checkpoint, error)
	Clear() error
	Exists() bool
}

type metadata struct {
	Cursor      int                `json:"cursor"`
	SourceField string             `json:"source_field"`
	Mapping     model.FieldMapping `json:"field_mapping"`
	DataFile    string             `json:"data_file"`
	Rows        int                `json:"rows"`
	Columns     int                `json:"columns"`
	SavedAt     time.Time          `json:"saved_at"`
}

// FileStore keeps both artifacts in one directory.
type FileStore struct {
	dir      string
	dataFile string
	metaFile string
}

// NewFileStore creates a FileStore. The directory is created if missing.
func NewFileStore(dir, dataFile, metaFile string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "checkpoint: create dir")
	}
	return &FileStore{dir: dir, dataFile: dataFile, metaFile: metaFile}, nil
}

func (s *FileStore) dataPath() string { return filepath.Join(s.dir, s.dataFile) }
func (s *FileStore) metaPath() string { return filepath.Join(s.dir, s.metaFile) }

// Save writes the data snapshot and then the metadata. Each artifact goes to
// a temporary file that is synced and renamed into place, so the metadata is
// only visible once the snapshot it references is complete.
func (s *FileStore) Save(cursor int, sourceField string, mapping model.FieldMapping, data *dataset.Table) error {
	dw, err := atomicwriter.New(s.dataPath(), 0o644)
	if err != nil {
		return eris.Wrap(err, "checkpoint: open data")
	}
	if err := dataset.WriteCSV(dw, data); err != nil {
		_ = dw.Close()
		return eris.Wrap(err, "checkpoint: write data")
	}
	if err := dw.Close(); err != nil {
		return eris.Wrap(err, "checkpoint: commit data")
	}

	meta := metadata{
		Cursor:      cursor,
		SourceField: sourceField,
		Mapping:     mapping,
		DataFile:    s.dataFile,
		Rows:        data.Len(),
		Columns:     len(data.Header()),
		SavedAt:     time.Now().UTC(),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal metadata")
	}
	if err := atomicwriter.WriteFile(s.metaPath(), b, 0o644); err != nil {
		return eris.Wrap(err, "checkpoint: write metadata")
	}

	zap.L().Debug("checkpoint: saved",
		zap.Int("cursor", cursor),
		zap.Int("rows", meta.Rows),
		zap.String("dir", s.dir),
	)
	return nil
}

// Exists reports whether both artifacts are present.
func (s *FileStore) Exists() bool {
	for _, p := range []string{s.metaPath(), s.dataPath()} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// Load restores the checkpoint. It returns ErrNotFound unless both artifacts
// exist and agree on the snapshot shape.
func (s *FileStore) Load(ctx context.Context) (*Checkpoint, error) {
	b, err := os.ReadFile(s.metaPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: read metadata")
	}

	var meta metadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, eris.Wrap(err, "checkpoint: parse metadata")
	}

	dataPath := s.dataPath()
	if meta.DataFile != "" {
		dataPath = filepath.Join(s.dir, filepath.Base(meta.DataFile))
	}
	data, err := dataset.LoadCSV(ctx, dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		zap.L().Warn("checkpoint: metadata without data snapshot", zap.String("data", dataPath))
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: read data")
	}

	if data.Len() != meta.Rows || len(data.Header()) != meta.Columns {
		return nil, eris.Errorf("checkpoint: snapshot has %dx%d cells, metadata expects %dx%d",
			data.Len(), len(data.Header()), meta.Rows, meta.Columns)
	}
	if meta.Cursor < 0 || meta.Cursor > data.Len() {
		return nil, eris.Errorf("checkpoint: cursor %d out of range (%d rows)", meta.Cursor, data.Len())
	}
	if !data.HasColumn(meta.SourceField) {
		return nil, eris.Errorf("checkpoint: source column %q missing from snapshot", meta.SourceField)
	}

	return &Checkpoint{
		Cursor:      meta.Cursor,
		SourceField: meta.SourceField,
		Mapping:     meta.Mapping,
		Data:        data,
		SavedAt:     meta.SavedAt,
	}, nil
}

// Clear removes the metadata first so a partial clear never leaves a
// resumable record behind.
func (s *FileStore) Clear() error {
	for _, p := range []string{s.metaPath(), s.dataPath()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return eris.Wrapf(err, "checkpoint: remove %s", filepath.Base(p))
		}
	}
	return nil
}
