// Package planstore persists the interval plan as a JSON document.
package planstore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/shiomiya/skipbeat/internal/domain/plan"
)

// Store persists a plan at a stable file path.
type Store struct {
	path string
}

// New creates a store backed by the given file path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted plan, migrating legacy shapes. A missing or
// unreadable document yields the default plan; persisted plan problems are
// never surfaced as errors.
func (s *Store) Load() plan.Plan {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return plan.Default()
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		zlog.Warn().Msgf("planstore: ignoring malformed plan file %s: %v", s.path, err)
		return plan.Default()
	}
	return plan.Migrate(raw)
}

// Save writes the plan in the current schema, creating parent directories
// as needed.
func (s *Store) Save(p plan.Plan) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal plan")
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "failed to create plan directory")
		}
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write plan file")
	}
	return nil
}
