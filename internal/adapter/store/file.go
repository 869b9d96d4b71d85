// Package store persists the high-tide index and the forecast mirror.
//
// Two index backends exist: JSON artifacts for the static-dashboard
// deployment (the original and default) and SQLite for installations
// that want to query peaks with ordinary SQL tools. Forecast artifacts
// are always JSON; they exist solely to be served to the dashboard.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/couchcryptid/tide-data-etl/internal/domain"
)

// FileStore reads and writes the JSON artifacts for one site. Writes are
// atomic (temp file in the target directory, then rename) so a crashed
// run can never leave a half-written index behind. The artifact layout
// matches what the dashboard consumes: 2-space indentation, stable key
// order from the struct definitions.
type FileStore struct {
	indexPath    string
	forecastPath string
}

// NewFileStore creates a file store writing the index and forecast to
// the given paths. Parent directories are created on first save.
func NewFileStore(indexPath, forecastPath string) *FileStore {
	return &FileStore{indexPath: indexPath, forecastPath: forecastPath}
}

// Load reads the persisted index. A missing file is a first run and
// yields an empty, zero-metadata index with no error; anything else
// unreadable or unparseable is an error, because overwriting a corrupt
// index would silently discard accumulated history.
func (s *FileStore) Load(_ context.Context) (domain.Index, error) {
	data, err := os.ReadFile(s.indexPath)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Index{}, nil
	}
	if err != nil {
		return domain.Index{}, fmt.Errorf("read index: %w", err)
	}

	var idx domain.Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return domain.Index{}, fmt.Errorf("parse index %s: %w", s.indexPath, err)
	}
	return idx, nil
}

// Save atomically replaces the index artifact.
func (s *FileStore) Save(_ context.Context, idx domain.Index) error {
	if err := writeJSON(s.indexPath, idx); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	return nil
}

// SaveForecast atomically replaces the forecast artifact.
func (s *FileStore) SaveForecast(_ context.Context, fc domain.Forecast) error {
	if err := writeJSON(s.forecastPath, fc); err != nil {
		return fmt.Errorf("save forecast: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
