package instance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/quailyquaily/peergate/internal/fsstore"
	"github.com/quailyquaily/peergate/internal/secretbox"
)

// Store persists one config file per instance, encrypted at rest when a
// storage secret is configured.
type Store struct {
	dir    string
	sealer *secretbox.Sealer
}

func NewStore(dir string, sealer *secretbox.Sealer) *Store {
	return &Store{dir: dir, sealer: sealer}
}

func (s *Store) path(instanceID string) (string, error) {
	stem, err := fsstore.SanitizeKey(instanceID)
	if err != nil {
		return "", fmt.Errorf("%w: bad instance id", ErrInvalidConfig)
	}
	return filepath.Join(s.dir, stem+".json"), nil
}

// Load returns (config, found, error). A missing file is not an error.
func (s *Store) Load(instanceID string) (Config, bool, error) {
	path, err := s.path(instanceID)
	if err != nil {
		return Config{}, false, err
	}
	raw, ok, err := fsstore.ReadText(path)
	if err != nil || !ok {
		return Config{}, false, err
	}
	payload, err := s.sealer.Open(strings.TrimSpace(raw))
	if err != nil {
		return Config{}, false, fmt.Errorf("open config %s: %w", instanceID, err)
	}
	var cfg Config
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("decode config %s: %w", instanceID, err)
	}
	return cfg, true, nil
}

// Save stamps UpdatedAt and overwrites the record in place.
func (s *Store) Save(cfg Config) error {
	path, err := s.path(cfg.InstanceID)
	if err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now().UTC()
	payload, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config %s: %w", cfg.InstanceID, err)
	}
	sealed, err := s.sealer.Seal(payload)
	if err != nil {
		return fmt.Errorf("seal config %s: %w", cfg.InstanceID, err)
	}
	return fsstore.WriteTextAtomic(path, sealed, fsstore.FileOptions{})
}

// Delete removes the config file. Idempotent.
func (s *Store) Delete(instanceID string) error {
	path, err := s.path(instanceID)
	if err != nil {
		return err
	}
	return fsstore.Remove(path)
}

// List loads every persisted config, sorted by instance id. Records that
// fail to decode are skipped so one corrupt file cannot hide the rest.
func (s *Store) List() ([]Config, []error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("list configs: %w", err)}
	}
	var out []Config
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, ok, err := fsstore.ReadText(filepath.Join(s.dir, entry.Name()))
		if err != nil || !ok {
			if err != nil {
				errs = append(errs, err)
			}
			continue
		}
		payload, err := s.sealer.Open(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, fmt.Errorf("open config file %s: %w", entry.Name(), err))
			continue
		}
		var cfg Config
		if err := json.Unmarshal(payload, &cfg); err != nil {
			errs = append(errs, fmt.Errorf("decode config file %s: %w", entry.Name(), err))
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out, errs
}
