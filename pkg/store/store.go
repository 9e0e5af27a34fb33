// Package store is the authoritative chat state: users, conversations and
// message chains, indexed in memory and written through to pebble so a
// restart recovers the full model. All access goes through package
// functions guarded by one RWMutex; that single lock is the concurrency
// discipline promised to the protocol layer, which issues store calls from
// many connection goroutines and from the relay ingest task concurrently.
package store

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/sentiment"
)

var (
	ErrClosed   = errors.New("store: not open")
	ErrNotFound = errors.New("store: no such entity")
)

var (
	mu    sync.RWMutex
	users = map[uuid.UUID]*models.User{}
	convs = map[uuid.UUID]*models.Conversation{}
	msgs  = map[uuid.UUID]*models.Message{}

	// generation changes whenever the user set changes; clients poll it
	// to learn when their cached user list is stale.
	generation  = uuid.New()
	relayCursor uuid.UUID
)

func now() int64 {
	return time.Now().UTC().UnixMilli()
}

// Open opens (or creates) the pebble database at path and loads the whole
// chat model into memory.
func Open(path string) error {
	mu.Lock()
	defer mu.Unlock()
	if db != nil {
		return errors.New("store: already open")
	}
	users = map[uuid.UUID]*models.User{}
	convs = map[uuid.UUID]*models.Conversation{}
	msgs = map[uuid.UUID]*models.Message{}
	relayCursor = uuid.Nil
	generation = uuid.New()
	if err := openDB(path); err != nil {
		return err
	}
	if err := loadAll(); err != nil {
		_ = closeDB()
		return err
	}
	return nil
}

// Close flushes and closes the backing database.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	return closeDB()
}

// Ready reports whether the store is open.
func Ready() bool {
	mu.RLock()
	defer mu.RUnlock()
	return db != nil
}

// NewUser creates a user with a fresh identifier.
func NewUser(name string) (models.User, error) {
	return AddUser(uuid.New(), name, now())
}

// AddUser creates a user with the supplied identifier and creation time.
// Relay-originated users keep their origin identifier, so re-adding a
// known id is a no-op returning the existing user.
func AddUser(id uuid.UUID, name string, creation int64) (models.User, error) {
	mu.Lock()
	defer mu.Unlock()
	if db == nil {
		return models.User{}, ErrClosed
	}
	if u, ok := users[id]; ok {
		return *u, nil
	}
	u := &models.User{ID: id, Name: name, Creation: creation}
	if err := persistUser(u); err != nil {
		return models.User{}, err
	}
	users[id] = u
	generation = uuid.New()
	return *u, nil
}

// NewConversation creates a conversation with a fresh identifier. The owner
// must already exist.
func NewConversation(title string, owner uuid.UUID) (models.Conversation, error) {
	return AddConversation(uuid.New(), title, owner, now())
}

// AddConversation creates a conversation with the supplied identifier,
// idempotently: a known id returns the existing conversation unchanged.
func AddConversation(id uuid.UUID, title string, owner uuid.UUID, creation int64) (models.Conversation, error) {
	mu.Lock()
	defer mu.Unlock()
	if db == nil {
		return models.Conversation{}, ErrClosed
	}
	if c, ok := convs[id]; ok {
		return *c, nil
	}
	if _, ok := users[owner]; !ok {
		return models.Conversation{}, ErrNotFound
	}
	c := &models.Conversation{
		ID:       id,
		Owner:    owner,
		Creation: creation,
		Title:    title,
		Members:  []uuid.UUID{owner},
	}
	if err := persistConversation(c); err != nil {
		return models.Conversation{}, err
	}
	convs[id] = c
	return *c, nil
}

// NewMessage appends a locally authored message to a conversation.
func NewMessage(author, conversation uuid.UUID, content string) (models.Message, error) {
	return AddMessage(uuid.New(), author, conversation, content, now())
}

// AddMessage appends a message with the supplied identifier to its
// conversation's chain. Author and conversation must resolve locally. The
// author's sentiment aggregate is updated here so local and relay-ingested
// messages score identically. A known message id is a no-op.
func AddMessage(id, author, conversation uuid.UUID, content string, creation int64) (models.Message, error) {
	mu.Lock()
	defer mu.Unlock()
	if db == nil {
		return models.Message{}, ErrClosed
	}
	if m, ok := msgs[id]; ok {
		return *m, nil
	}
	u, ok := users[author]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	c, ok := convs[conversation]
	if !ok {
		return models.Message{}, ErrNotFound
	}

	m := &models.Message{
		ID:           id,
		Previous:     c.LastMessage,
		Creation:     creation,
		Author:       author,
		Conversation: conversation,
		Content:      content,
	}

	var tail *models.Message
	if c.LastMessage != uuid.Nil {
		tail = msgs[c.LastMessage]
	}

	if err := persistMessage(m); err != nil {
		return models.Message{}, err
	}
	msgs[id] = m
	if tail != nil {
		tail.Next = id
		if err := persistMessage(tail); err != nil {
			logger.Error("message_tail_persist_failed", "message", tail.ID, "error", err)
		}
	}
	if c.FirstMessage == uuid.Nil {
		c.FirstMessage = id
	}
	c.LastMessage = id
	if !memberOf(c, author) {
		c.Members = append(c.Members, author)
	}
	if err := persistConversation(c); err != nil {
		logger.Error("conversation_persist_failed", "conversation", c.ID, "error", err)
	}

	sentiment.Apply(&u.Score, *m)
	if err := persistUser(u); err != nil {
		logger.Error("user_persist_failed", "user", u.ID, "error", err)
	}
	return *m, nil
}

func memberOf(c *models.Conversation, id uuid.UUID) bool {
	for _, m := range c.Members {
		if m == id {
			return true
		}
	}
	return false
}

// UserByID returns one user.
func UserByID(id uuid.UUID) (models.User, error) {
	mu.RLock()
	defer mu.RUnlock()
	u, ok := users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return *u, nil
}

// UsersByID returns the users whose ids are in the set; unknown ids are
// skipped.
func UsersByID(ids []uuid.UUID) []models.User {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := users[id]; ok {
			out = append(out, *u)
		}
	}
	return out
}

// UsersExcluding returns every user whose id is not in the set, ordered by
// creation time.
func UsersExcluding(ids []uuid.UUID) []models.User {
	excluded := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		excluded[id] = struct{}{}
	}
	mu.RLock()
	defer mu.RUnlock()
	out := make([]models.User, 0, len(users))
	for id, u := range users {
		if _, skip := excluded[id]; !skip {
			out = append(out, *u)
		}
	}
	sortUsers(out)
	return out
}

// UserGeneration returns the id of the current user-set generation.
func UserGeneration() uuid.UUID {
	mu.RLock()
	defer mu.RUnlock()
	return generation
}

// ConversationByID returns one conversation.
func ConversationByID(id uuid.UUID) (models.Conversation, error) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := convs[id]
	if !ok {
		return models.Conversation{}, ErrNotFound
	}
	return *c, nil
}

// AllConversations returns summaries of every conversation ordered by
// creation time.
func AllConversations() []models.ConversationSummary {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]models.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Creation != out[j].Creation {
			return out[i].Creation < out[j].Creation
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// ConversationsByID returns the conversations whose ids are in the set;
// unknown ids are skipped.
func ConversationsByID(ids []uuid.UUID) []models.Conversation {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]models.Conversation, 0, len(ids))
	for _, id := range ids {
		if c, ok := convs[id]; ok {
			out = append(out, *c)
		}
	}
	return out
}

// ConversationsByTime returns conversations created in [start, end],
// ordered by creation time.
func ConversationsByTime(start, end int64) []models.Conversation {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]models.Conversation, 0)
	for _, c := range convs {
		if c.Creation >= start && c.Creation <= end {
			out = append(out, *c)
		}
	}
	sortConversations(out)
	return out
}

// ConversationsByTitle returns conversations whose title contains the
// filter, case-insensitively, ordered by creation time.
func ConversationsByTitle(filter string) []models.Conversation {
	needle := strings.ToLower(filter)
	mu.RLock()
	defer mu.RUnlock()
	out := make([]models.Conversation, 0)
	for _, c := range convs {
		if strings.Contains(strings.ToLower(c.Title), needle) {
			out = append(out, *c)
		}
	}
	sortConversations(out)
	return out
}

// MessageByID returns one message.
func MessageByID(id uuid.UUID) (models.Message, error) {
	mu.RLock()
	defer mu.RUnlock()
	m, ok := msgs[id]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	return *m, nil
}

// MessagesByID returns the messages whose ids are in the set; unknown ids
// are skipped.
func MessagesByID(ids []uuid.UUID) []models.Message {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := msgs[id]; ok {
			out = append(out, *m)
		}
	}
	return out
}

// MessagesByTime returns a conversation's messages created in [start, end],
// in chain order.
func MessagesByTime(conversation uuid.UUID, start, end int64) []models.Message {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]models.Message, 0)
	c, ok := convs[conversation]
	if !ok {
		return out
	}
	for id := c.FirstMessage; id != uuid.Nil; {
		m, ok := msgs[id]
		if !ok {
			break
		}
		if m.Creation >= start && m.Creation <= end {
			out = append(out, *m)
		}
		id = m.Next
	}
	return out
}

// MessagesByRange returns up to count messages starting from root,
// following the chain forward.
func MessagesByRange(root uuid.UUID, count int) []models.Message {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]models.Message, 0, count)
	for id := root; id != uuid.Nil && len(out) < count; {
		m, ok := msgs[id]
		if !ok {
			break
		}
		out = append(out, *m)
		id = m.Next
	}
	return out
}

// RelayCursor returns the id of the last fully ingested relay bundle, or
// uuid.Nil when no bundle has been seen.
func RelayCursor() uuid.UUID {
	mu.RLock()
	defer mu.RUnlock()
	return relayCursor
}

// SetRelayCursor durably advances the relay polling cursor.
func SetRelayCursor(id uuid.UUID) error {
	mu.Lock()
	defer mu.Unlock()
	if db == nil {
		return ErrClosed
	}
	if err := persistCursor(id); err != nil {
		return err
	}
	relayCursor = id
	return nil
}

// Counts reports entity totals for the admin surface.
func Counts() (nusers, nconvs, nmsgs int) {
	mu.RLock()
	defer mu.RUnlock()
	return len(users), len(convs), len(msgs)
}

func sortUsers(us []models.User) {
	sort.Slice(us, func(i, j int) bool {
		if us[i].Creation != us[j].Creation {
			return us[i].Creation < us[j].Creation
		}
		return us[i].ID.String() < us[j].ID.String()
	})
}

func sortConversations(cs []models.Conversation) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Creation != cs[j].Creation {
			return cs[i].Creation < cs[j].Creation
		}
		return cs[i].ID.String() < cs[j].ID.String()
	})
}
