package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func openTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := Open(dir); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
	return dir
}

func TestNewUserConversationMessage(t *testing.T) {
	openTemp(t)

	u, err := NewUser("ada")
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	c, err := NewConversation("general", u.ID)
	if err != nil {
		t.Fatalf("new conversation: %v", err)
	}
	if c.Owner != u.ID {
		t.Fatalf("owner %s, want %s", c.Owner, u.ID)
	}
	if len(c.Members) != 1 || c.Members[0] != u.ID {
		t.Fatalf("members %v, want just the owner", c.Members)
	}

	m1, err := NewMessage(u.ID, c.ID, "first")
	if err != nil {
		t.Fatalf("first message: %v", err)
	}
	m2, err := NewMessage(u.ID, c.ID, "second")
	if err != nil {
		t.Fatalf("second message: %v", err)
	}

	if m1.Previous != uuid.Nil {
		t.Fatalf("first message has previous %s", m1.Previous)
	}
	if m2.Previous != m1.ID {
		t.Fatalf("chain broken: second.Previous=%s want %s", m2.Previous, m1.ID)
	}
	m1b, err := MessageByID(m1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if m1b.Next != m2.ID {
		t.Fatalf("chain broken: first.Next=%s want %s", m1b.Next, m2.ID)
	}

	cc, err := ConversationByID(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cc.FirstMessage != m1.ID || cc.LastMessage != m2.ID {
		t.Fatalf("endpoints first=%s last=%s", cc.FirstMessage, cc.LastMessage)
	}
}

func TestConversationRequiresOwner(t *testing.T) {
	openTemp(t)
	if _, err := NewConversation("orphan", uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessageRequiresRefs(t *testing.T) {
	openTemp(t)
	u, _ := NewUser("ada")
	if _, err := NewMessage(u.ID, uuid.New(), "nowhere"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown conversation: expected ErrNotFound, got %v", err)
	}
	c, _ := NewConversation("general", u.ID)
	if _, err := NewMessage(uuid.New(), c.ID, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown author: expected ErrNotFound, got %v", err)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	openTemp(t)
	id := uuid.New()
	u1, err := AddUser(id, "ada", 100)
	if err != nil {
		t.Fatal(err)
	}
	u2, err := AddUser(id, "someone else", 999)
	if err != nil {
		t.Fatal(err)
	}
	if u2.Name != u1.Name || u2.Creation != u1.Creation {
		t.Fatalf("re-add mutated the user: %+v", u2)
	}

	c, _ := NewConversation("general", id)
	mid := uuid.New()
	if _, err := AddMessage(mid, id, c.ID, "once", 200); err != nil {
		t.Fatal(err)
	}
	if _, err := AddMessage(mid, id, c.ID, "twice", 300); err != nil {
		t.Fatal(err)
	}
	_, _, nmsgs := Counts()
	if nmsgs != 1 {
		t.Fatalf("duplicate id produced %d messages", nmsgs)
	}
	cc, _ := ConversationByID(c.ID)
	if cc.FirstMessage != mid || cc.LastMessage != mid {
		t.Fatalf("replay moved the chain: first=%s last=%s", cc.FirstMessage, cc.LastMessage)
	}
}

func TestGenerationChangesOnNewUser(t *testing.T) {
	openTemp(t)
	g0 := UserGeneration()
	if _, err := NewUser("ada"); err != nil {
		t.Fatal(err)
	}
	g1 := UserGeneration()
	if g1 == g0 {
		t.Fatal("generation unchanged after user-set change")
	}
	// queries do not advance the generation
	_ = UsersExcluding(nil)
	if UserGeneration() != g1 {
		t.Fatal("generation changed without a user-set change")
	}
}

func TestUsersExcluding(t *testing.T) {
	openTemp(t)
	a, _ := AddUser(uuid.New(), "a", 1)
	b, _ := AddUser(uuid.New(), "b", 2)
	c, _ := AddUser(uuid.New(), "c", 3)

	got := UsersExcluding([]uuid.UUID{b.ID})
	if len(got) != 2 {
		t.Fatalf("expected 2 users, got %d", len(got))
	}
	if got[0].ID != a.ID || got[1].ID != c.ID {
		t.Fatalf("wrong users or order: %v %v", got[0].Name, got[1].Name)
	}
}

func TestConversationQueries(t *testing.T) {
	openTemp(t)
	u, _ := NewUser("ada")
	c1, _ := AddConversation(uuid.New(), "Go talk", u.ID, 100)
	c2, _ := AddConversation(uuid.New(), "random chatter", u.ID, 200)
	c3, _ := AddConversation(uuid.New(), "more go TALK", u.ID, 300)

	all := AllConversations()
	if len(all) != 3 || all[0].ID != c1.ID || all[2].ID != c3.ID {
		t.Fatalf("AllConversations order wrong: %+v", all)
	}

	byTime := ConversationsByTime(150, 250)
	if len(byTime) != 1 || byTime[0].ID != c2.ID {
		t.Fatalf("ConversationsByTime: %+v", byTime)
	}

	byTitle := ConversationsByTitle("go talk")
	if len(byTitle) != 2 || byTitle[0].ID != c1.ID || byTitle[1].ID != c3.ID {
		t.Fatalf("ConversationsByTitle should match case-insensitively: %+v", byTitle)
	}

	byID := ConversationsByID([]uuid.UUID{c2.ID, uuid.New()})
	if len(byID) != 1 || byID[0].ID != c2.ID {
		t.Fatalf("ConversationsByID should skip unknown ids: %+v", byID)
	}
}

func TestMessageQueries(t *testing.T) {
	openTemp(t)
	u, _ := NewUser("ada")
	c, _ := NewConversation("general", u.ID)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		m, err := AddMessage(uuid.New(), u.ID, c.ID, fmt.Sprintf("m%d", i), int64(100+i))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, m.ID)
	}

	byTime := MessagesByTime(c.ID, 101, 103)
	if len(byTime) != 3 || byTime[0].ID != ids[1] || byTime[2].ID != ids[3] {
		t.Fatalf("MessagesByTime: %+v", byTime)
	}

	byRange := MessagesByRange(ids[1], 2)
	if len(byRange) != 2 || byRange[0].ID != ids[1] || byRange[1].ID != ids[2] {
		t.Fatalf("MessagesByRange: %+v", byRange)
	}

	// count beyond the end of the chain stops at the tail
	byRange = MessagesByRange(ids[3], 10)
	if len(byRange) != 2 {
		t.Fatalf("MessagesByRange past tail: %+v", byRange)
	}
}

func TestSentimentAppliedOnIngest(t *testing.T) {
	openTemp(t)
	u, _ := NewUser("ada")
	c, _ := NewConversation("general", u.ID)
	if _, err := NewMessage(u.ID, c.ID, "this is great, thanks"); err != nil {
		t.Fatal(err)
	}
	if _, err := NewMessage(u.ID, c.ID, "terrible"); err != nil {
		t.Fatal(err)
	}
	got, _ := UserByID(u.ID)
	if got.Score.Count != 2 {
		t.Fatalf("score count %d, want 2", got.Score.Count)
	}
	if got.Score.Total != 1 { // +2 +1 -2
		t.Fatalf("score total %d, want 1", got.Score.Total)
	}
}

func TestRestartRecoversState(t *testing.T) {
	dir := t.TempDir()
	if err := Open(dir); err != nil {
		t.Fatal(err)
	}
	u, _ := NewUser("ada")
	c, _ := NewConversation("general", u.ID)
	m1, _ := NewMessage(u.ID, c.ID, "one")
	m2, _ := NewMessage(u.ID, c.ID, "two")
	cursor := uuid.New()
	if err := SetRelayCursor(cursor); err != nil {
		t.Fatal(err)
	}
	if err := Close(); err != nil {
		t.Fatal(err)
	}

	if err := Open(dir); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer Close()

	nusers, nconvs, nmsgs := Counts()
	if nusers != 1 || nconvs != 1 || nmsgs != 2 {
		t.Fatalf("recovered %d/%d/%d", nusers, nconvs, nmsgs)
	}
	cc, err := ConversationByID(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cc.FirstMessage != m1.ID || cc.LastMessage != m2.ID {
		t.Fatalf("chain endpoints lost: first=%s last=%s", cc.FirstMessage, cc.LastMessage)
	}
	mm, err := MessageByID(m1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if mm.Next != m2.ID {
		t.Fatal("chain link lost across restart")
	}
	if RelayCursor() != cursor {
		t.Fatalf("cursor %s, want %s", RelayCursor(), cursor)
	}
	uu, _ := UserByID(u.ID)
	if uu.Score.Count != 2 {
		t.Fatalf("score lost across restart: %+v", uu.Score)
	}
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	if _, err := NewUser("nobody"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCompactAndDiskEstimate(t *testing.T) {
	dir := t.TempDir()
	if err := Open(dir); err != nil {
		t.Fatal(err)
	}
	u, _ := NewUser("ada")
	c, _ := NewConversation("general", u.ID)

	// maintenance calls race the serving path; both must hold the store lock
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if _, err := NewMessage(u.ID, c.ID, fmt.Sprintf("m%d", i)); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}
	}()
	for i := 0; i < 5; i++ {
		if _, err := DiskEstimate(); err != nil {
			t.Errorf("disk estimate: %v", err)
		}
	}
	wg.Wait()
	if err := Compact(); err != nil {
		t.Fatalf("compact: %v", err)
	}

	if err := Close(); err != nil {
		t.Fatal(err)
	}
	if err := Compact(); !errors.Is(err, ErrClosed) {
		t.Fatalf("compact after close: %v", err)
	}
	if _, err := DiskEstimate(); !errors.Is(err, ErrClosed) {
		t.Fatalf("disk estimate after close: %v", err)
	}
}

func TestConcurrentAppends(t *testing.T) {
	openTemp(t)
	u, _ := NewUser("ada")
	c, _ := NewConversation("general", u.ID)

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			if _, err := NewMessage(u.ID, c.ID, fmt.Sprintf("m%d", i)); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	_, _, nmsgs := Counts()
	if nmsgs != n {
		t.Fatalf("expected %d messages, got %d", n, nmsgs)
	}

	// the chain must still thread through every message exactly once
	cc, _ := ConversationByID(c.ID)
	seen := 0
	for id := cc.FirstMessage; id != uuid.Nil; {
		m, err := MessageByID(id)
		if err != nil {
			t.Fatalf("broken chain at %s: %v", id, err)
		}
		seen++
		id = m.Next
	}
	if seen != n {
		t.Fatalf("chain visits %d of %d messages", seen, n)
	}
}
