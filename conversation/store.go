package conversation

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/quailyquaily/peergate/internal/fsstore"
	"github.com/quailyquaily/peergate/internal/secretbox"
)

// Store persists one file per conversation key, encrypted at rest when a
// storage secret is configured.
type Store struct {
	dir    string
	sealer *secretbox.Sealer
}

func NewStore(dir string, sealer *secretbox.Sealer) *Store {
	return &Store{dir: dir, sealer: sealer}
}

func (s *Store) path(key string) (string, error) {
	stem, err := fsstore.SanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, stem+".json"), nil
}

// Load returns the record for key, or a fresh empty record if none exists.
func (s *Store) Load(key string) (Record, error) {
	path, err := s.path(key)
	if err != nil {
		return Record{}, err
	}
	raw, ok, err := fsstore.ReadText(path)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		now := time.Now().UTC()
		return Record{Key: key, Messages: []Message{}, CreatedAt: now, UpdatedAt: now}, nil
	}
	payload, err := s.sealer.Open(strings.TrimSpace(raw))
	if err != nil {
		return Record{}, fmt.Errorf("open conversation %s: %w", key, err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("decode conversation %s: %w", key, err)
	}
	if rec.Messages == nil {
		rec.Messages = []Message{}
	}
	return rec, nil
}

// Save trims to maxLen (oldest first), stamps UpdatedAt, and overwrites the
// record in place. After every save len(rec.Messages) <= maxLen.
func (s *Store) Save(rec Record, maxLen int) error {
	path, err := s.path(rec.Key)
	if err != nil {
		return err
	}
	rec.Messages = Trim(rec.Messages, maxLen)
	rec.UpdatedAt = time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	payload, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", rec.Key, err)
	}
	sealed, err := s.sealer.Seal(payload)
	if err != nil {
		return fmt.Errorf("seal conversation %s: %w", rec.Key, err)
	}
	return fsstore.WriteTextAtomic(path, sealed, fsstore.FileOptions{})
}

// Delete removes the record for key. Idempotent.
func (s *Store) Delete(key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	return fsstore.Remove(path)
}

// Exists reports whether a record file is present for key.
func (s *Store) Exists(key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, ok, err := fsstore.ReadText(path)
	return ok, err
}
