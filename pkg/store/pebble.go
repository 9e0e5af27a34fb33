package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"parley/pkg/logger"
	"parley/pkg/models"
)

var db *pebble.DB
var dbPath string

// Key layout. Message keys carry a zero-padded creation timestamp so a
// prefix scan per conversation yields messages in creation order.
//
//	user:<uuid>                         -> models.User JSON
//	conv:<uuid>                         -> models.Conversation JSON
//	msg:<conv-uuid>:<%020d ms>:<uuid>   -> models.Message JSON
//	meta:relay-cursor                   -> 16 raw bytes
const relayCursorKey = "meta:relay-cursor"

func userKey(id uuid.UUID) []byte {
	return []byte("user:" + id.String())
}

func convKey(id uuid.UUID) []byte {
	return []byte("conv:" + id.String())
}

func msgKey(m models.Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%020d:%s", m.Conversation, m.Creation, m.ID))
}

func openDB(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	return nil
}

func closeDB() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	dbPath = ""
	logger.Info("pebble_closed")
	return nil
}

func persistUser(u *models.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	return db.Set(userKey(u.ID), data, pebble.Sync)
}

func persistConversation(c *models.Conversation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return db.Set(convKey(c.ID), data, pebble.Sync)
}

func persistMessage(m *models.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return db.Set(msgKey(*m), data, pebble.Sync)
}

func persistCursor(id uuid.UUID) error {
	return db.Set([]byte(relayCursorKey), id[:], pebble.Sync)
}

// loadAll rebuilds the in-memory model from disk. Caller holds mu.
func loadAll() error {
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()

	scan := func(prefix []byte, each func(value []byte) error) error {
		for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
			if !bytes.HasPrefix(iter.Key(), prefix) {
				break
			}
			v := append([]byte(nil), iter.Value()...)
			if err := each(v); err != nil {
				return err
			}
		}
		return iter.Error()
	}

	if err := scan([]byte("user:"), func(v []byte) error {
		var u models.User
		if err := json.Unmarshal(v, &u); err != nil {
			return fmt.Errorf("corrupt user record: %w", err)
		}
		users[u.ID] = &u
		return nil
	}); err != nil {
		return err
	}

	if err := scan([]byte("conv:"), func(v []byte) error {
		var c models.Conversation
		if err := json.Unmarshal(v, &c); err != nil {
			return fmt.Errorf("corrupt conversation record: %w", err)
		}
		convs[c.ID] = &c
		return nil
	}); err != nil {
		return err
	}

	if err := scan([]byte("msg:"), func(v []byte) error {
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			return fmt.Errorf("corrupt message record: %w", err)
		}
		msgs[m.ID] = &m
		return nil
	}); err != nil {
		return err
	}

	v, closer, err := db.Get([]byte(relayCursorKey))
	if err == nil {
		if len(v) == 16 {
			copy(relayCursor[:], v)
		}
		_ = closer.Close()
	} else if err != pebble.ErrNotFound {
		return err
	}

	logger.Info("store_loaded", "users", len(users), "conversations", len(convs), "messages", len(msgs))
	return nil
}

// Compact requests a full-range pebble compaction. Used by the
// maintenance runner; safe to call while serving.
func Compact() error {
	mu.RLock()
	defer mu.RUnlock()
	if db == nil {
		return ErrClosed
	}
	return db.Compact([]byte{0x00}, []byte{0xff}, false)
}

// DiskEstimate returns pebble's estimate of on-disk size for all chat data.
func DiskEstimate() (uint64, error) {
	mu.RLock()
	defer mu.RUnlock()
	if db == nil {
		return 0, ErrClosed
	}
	return db.EstimateDiskUsage([]byte{0x00}, []byte{0xff})
}
