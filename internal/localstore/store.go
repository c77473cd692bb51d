// Package localstore is the degraded-mode cache of chat history. Each chat
// is kept under "taskChat:<chatId>" as a JSON array of messages.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"

	"github.com/taskboard/taskchat/internal/domain"
)

const keyPrefix = "taskChat:"

type Store struct {
	db  *pebble.DB
	log *zap.Logger
}

func Open(dir string, log *zap.Logger) (*Store, error) {
	return open(dir, &pebble.Options{}, log)
}

// OpenInMemory returns a store that forgets everything on Close.
func OpenInMemory(log *zap.Logger) (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()}, log)
}

func open(dir string, opts *pebble.Options, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open local store %q: %w", dir, err)
	}
	return &Store{db: db, log: log}, nil
}

func Key(chatID domain.ChatID) []byte {
	return []byte(keyPrefix + string(chatID))
}

// Load returns the cached history for chatID. found is false when nothing
// has been cached yet. Messages that were still sending when they were
// written are surfaced as failed, since nobody is waiting on them anymore.
func (s *Store) Load(chatID domain.ChatID) (msgs []domain.Message, found bool, err error) {
	v, closer, err := s.db.Get(Key(chatID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		s.log.Error("local store get failed", zap.String("chat_id", chatID.String()), zap.Error(err))
		return nil, false, err
	}
	defer closer.Close()

	if err := json.Unmarshal(v, &msgs); err != nil {
		return nil, false, fmt.Errorf("decode cached chat %s: %w", chatID, err)
	}
	for i := range msgs {
		if msgs[i].State == domain.Sending {
			msgs[i].State = domain.Failed
		}
	}
	return msgs, true, nil
}

// Save replaces the cached history for chatID. Local preview locators are
// dropped by the attachment encoder.
func (s *Store) Save(chatID domain.ChatID, msgs []domain.Message) error {
	if msgs == nil {
		msgs = []domain.Message{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode chat %s: %w", chatID, err)
	}
	if err := s.db.Set(Key(chatID), b, pebble.Sync); err != nil {
		s.log.Error("local store save failed", zap.String("chat_id", chatID.String()), zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) Delete(chatID domain.ChatID) error {
	return s.db.Delete(Key(chatID), pebble.Sync)
}

func (s *Store) Close() error {
	return s.db.Close()
}
