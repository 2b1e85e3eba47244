// Package editstore persists edit records in an embedded Pebble database so
// user edits survive restarts and session switches. Records are written
// under their composite key (sender role + message id + content) with a
// message-id index for display-time lookup.
package editstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/agentflow-ai/chat-sync/internal/model"
	"github.com/agentflow-ai/chat-sync/pkg/logger"
)

// Store is a Pebble-backed edit record store.
type Store struct {
	db  *pebble.DB
	log *logger.Logger
}

// Open opens (or creates) the edit store at path.
func Open(path string, log *logger.Logger) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error("edit store open failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("failed to open edit store: %w", err)
	}
	log.Info("edit store opened", zap.String("path", path))
	return &Store{db: db, log: log}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Key layout:
//   edit:<session>:<composite>   -> record
//   editid:<session>:<msgID>     -> record (index for lookup by message id)
func recordKey(sessionID, composite string) []byte {
	return []byte(fmt.Sprintf("edit:%s:%s", sessionID, composite))
}

func indexKey(sessionID, messageID string) []byte {
	return []byte(fmt.Sprintf("editid:%s:%s", sessionID, messageID))
}

// Put stores an edit record under its composite key and message-id index.
func (s *Store) Put(rec model.EditRecord) error {
	if s.db == nil {
		return fmt.Errorf("edit store not opened")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal edit record: %w", err)
	}
	if err := s.db.Set(recordKey(rec.SessionID, rec.Key()), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write edit record: %w", err)
	}
	if err := s.db.Set(indexKey(rec.SessionID, rec.MessageID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write edit index: %w", err)
	}
	return nil
}

// Lookup returns the edit record for a message id within a session.
// Malformed stored records are tolerated: they are logged, deleted and
// reported as absent.
func (s *Store) Lookup(sessionID, messageID string) (model.EditRecord, bool) {
	if s.db == nil {
		return model.EditRecord{}, false
	}
	key := indexKey(sessionID, messageID)
	val, closer, err := s.db.Get(key)
	if err != nil {
		return model.EditRecord{}, false
	}
	data := append([]byte(nil), val...)
	closer.Close()

	var rec model.EditRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn("skipping malformed edit record",
			zap.String("session_id", sessionID),
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		_ = s.db.Delete(key, pebble.Sync)
		return model.EditRecord{}, false
	}
	return rec, true
}

// Rekey moves an edit record from a client message id to the backend id once
// confirmation arrives, so records always carry the backend id when known.
func (s *Store) Rekey(sessionID, oldID, newID string) error {
	if s.db == nil {
		return fmt.Errorf("edit store not opened")
	}
	rec, ok := s.Lookup(sessionID, oldID)
	if !ok {
		return nil
	}

	oldRecord := recordKey(sessionID, rec.Key())
	rec.MessageID = newID
	rec.OptimisticEdited = false

	if err := s.Put(rec); err != nil {
		return err
	}
	if err := s.db.Delete(indexKey(sessionID, oldID), pebble.Sync); err != nil {
		return err
	}
	return s.db.Delete(oldRecord, pebble.Sync)
}

// DeleteSession removes every edit record belonging to a session.
func (s *Store) DeleteSession(sessionID string) (int, error) {
	n1, err := s.deletePrefix([]byte("edit:" + sessionID + ":"))
	if err != nil {
		return n1, err
	}
	n2, err := s.deletePrefix([]byte("editid:" + sessionID + ":"))
	return n1 + n2, err
}

// SweepOlderThan removes records last updated before cutoff, plus records of
// sessions the keep callback rejects. Returns how many records were removed.
// Unreadable records are removed rather than kept forever.
func (s *Store) SweepOlderThan(cutoff time.Time, keep func(sessionID string) bool) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("edit store not opened")
	}
	var stale [][]byte
	for _, prefix := range [][]byte{[]byte("edit:"), []byte("editid:")} {
		iter, err := s.db.NewIter(&pebble.IterOptions{})
		if err != nil {
			return 0, err
		}
		for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
			if !bytes.HasPrefix(iter.Key(), prefix) {
				break
			}
			var rec model.EditRecord
			if err := json.Unmarshal(iter.Value(), &rec); err != nil {
				stale = append(stale, append([]byte(nil), iter.Key()...))
				continue
			}
			if rec.UpdatedAt.Before(cutoff) || (keep != nil && !keep(rec.SessionID)) {
				stale = append(stale, append([]byte(nil), iter.Key()...))
			}
		}
		if err := iter.Close(); err != nil {
			return 0, err
		}
	}
	for _, key := range stale {
		if err := s.db.Delete(key, pebble.Sync); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

func (s *Store) deletePrefix(prefix []byte) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("edit store not opened")
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	var keys [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := s.db.Delete(key, pebble.Sync); err != nil {
			return len(keys), err
		}
	}
	return len(keys), nil
}
