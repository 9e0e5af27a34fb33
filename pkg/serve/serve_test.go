package serve

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"parley/pkg/broadcast"
	"parley/pkg/models"
	"parley/pkg/relay"
	"parley/pkg/store"
	"parley/pkg/timeline"
	"parley/pkg/wire"
)

// fakeRelay serves a fixed bundle log with cursor semantics and records
// writes, standing in for a remote peer.
type fakeRelay struct {
	log     []relay.Bundle
	readErr error
	writes  []relay.Bundle
}

func (f *fakeRelay) Read(_ uuid.UUID, _ []byte, since uuid.UUID, max int) ([]relay.Bundle, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	start := 0
	if since != uuid.Nil {
		for i, b := range f.log {
			if b.ID == since {
				start = i + 1
				break
			}
		}
	}
	end := start + max
	if end > len(f.log) {
		end = len(f.log)
	}
	return f.log[start:end], nil
}

func (f *fakeRelay) Write(_ uuid.UUID, _ []byte, user, conversation, message relay.Component) error {
	f.writes = append(f.writes, relay.Bundle{User: user, Conversation: conversation, Message: message})
	return nil
}

func newTestServer(t *testing.T, r relay.Relay) *Server {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if r == nil {
		r = relay.NoOp{}
	}
	s := &Server{
		id:        uuid.New(),
		relay:     r,
		poll:      time.Hour,
		batch:     defaultPollBatch,
		timeline:  timeline.New(),
		broadcast: broadcast.New(),
	}
	t.Cleanup(s.Stop)
	return s
}

func makeBundle(user, conv, msg string) relay.Bundle {
	return relay.Bundle{
		ID:           uuid.New(),
		User:         relay.Pack(uuid.New(), user, 100),
		Conversation: relay.Pack(uuid.New(), conv, 200),
		Message:      relay.Pack(uuid.New(), msg, 300),
	}
}

func TestPollRelayIngestsBundles(t *testing.T) {
	fake := &fakeRelay{log: []relay.Bundle{
		makeBundle("ada", "general", "hello"),
		makeBundle("brin", "random", "hey"),
	}}
	s := newTestServer(t, fake)

	s.pollRelay()

	nusers, nconvs, nmsgs := store.Counts()
	if nusers != 2 || nconvs != 2 || nmsgs != 2 {
		t.Fatalf("ingested %d/%d/%d", nusers, nconvs, nmsgs)
	}
	if store.RelayCursor() != fake.log[1].ID {
		t.Fatalf("cursor %s, want %s", store.RelayCursor(), fake.log[1].ID)
	}

	// the author of the observed message owns the conversation here
	c, err := store.ConversationByID(fake.log[0].Conversation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if c.Owner != fake.log[0].User.ID {
		t.Fatalf("owner %s, want bundle user %s", c.Owner, fake.log[0].User.ID)
	}

	m, err := store.MessageByID(fake.log[0].Message.ID)
	if err != nil {
		t.Fatal(err)
	}
	if m.Content != "hello" || m.Conversation != c.ID {
		t.Fatalf("message mismatch: %+v", m)
	}
}

func TestPollRelayIsIdempotent(t *testing.T) {
	fake := &fakeRelay{log: []relay.Bundle{makeBundle("ada", "general", "hello")}}
	s := newTestServer(t, fake)

	s.pollRelay()
	// replay from the beginning, as a peer outage would force
	if err := store.SetRelayCursor(uuid.Nil); err != nil {
		t.Fatal(err)
	}
	s.pollRelay()

	nusers, nconvs, nmsgs := store.Counts()
	if nusers != 1 || nconvs != 1 || nmsgs != 1 {
		t.Fatalf("replay duplicated entities: %d/%d/%d", nusers, nconvs, nmsgs)
	}
}

func TestPollRelayErrorLeavesCursor(t *testing.T) {
	fake := &fakeRelay{readErr: errors.New("peer unreachable")}
	s := newTestServer(t, fake)

	s.pollRelay()
	if store.RelayCursor() != uuid.Nil {
		t.Fatal("cursor moved on a failed pull")
	}
}

func TestRelayPushSendsTriples(t *testing.T) {
	fake := &fakeRelay{}
	s := newTestServer(t, fake)

	u, _ := store.NewUser("ada")
	c, _ := store.NewConversation("general", u.ID)
	m, _ := store.NewMessage(u.ID, c.ID, "outbound")

	s.relayPush(u.ID, c.ID, m.ID)()

	if len(fake.writes) != 1 {
		t.Fatalf("pushed %d bundles", len(fake.writes))
	}
	w := fake.writes[0]
	if w.User.ID != u.ID || w.User.Text != "ada" {
		t.Fatalf("user component: %+v", w.User)
	}
	if w.Conversation.ID != c.ID || w.Conversation.Text != "general" {
		t.Fatalf("conversation component: %+v", w.Conversation)
	}
	if w.Message.ID != m.ID || w.Message.Text != "outbound" {
		t.Fatalf("message component: %+v", w.Message)
	}
}

// client is the test-side half of a piped session.
type client struct {
	conn net.Conn
	r    *bufio.Reader
}

func dialSession(t *testing.T, s *Server) *client {
	t.Helper()
	local, remote := net.Pipe()
	sess := s.newSession(remote)
	go sess.run()
	t.Cleanup(func() { _ = local.Close() })
	return &client{conn: local, r: bufio.NewReader(local)}
}

func (c *client) send(t *testing.T, encode func(io.Writer) error) {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- encode(c.conn) }()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("send: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send timed out")
	}
}

func (c *client) expectOpcode(t *testing.T, want wire.Opcode) {
	t.Helper()
	type result struct {
		op  wire.Opcode
		err error
	}
	resc := make(chan result, 1)
	go func() {
		op, err := wire.ReadOpcode(c.r)
		resc <- result{op, err}
	}()
	select {
	case res := <-resc:
		if res.err != nil {
			t.Fatalf("read opcode: %v", res.err)
		}
		if res.op != want {
			t.Fatalf("opcode %v, want %v", res.op, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %v", want)
	}
}

func TestSessionNewUser(t *testing.T) {
	s := newTestServer(t, nil)
	c := dialSession(t, s)

	c.send(t, func(w io.Writer) error {
		if err := wire.WriteOpcode(w, wire.NewUserRequest); err != nil {
			return err
		}
		return wire.WriteString(w, "ada")
	})

	c.expectOpcode(t, wire.NewUserResponse)
	u, err := wire.ReadNullable(c.r, wire.ReadUser)
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Name != "ada" {
		t.Fatalf("response user: %+v", u)
	}
	if _, err := store.UserByID(u.ID); err != nil {
		t.Fatalf("user not persisted: %v", err)
	}
}

func TestSessionUnknownOpcodeStaysOpen(t *testing.T) {
	s := newTestServer(t, nil)
	c := dialSession(t, s)

	c.send(t, func(w io.Writer) error {
		return wire.WriteInt32(w, 9999)
	})
	c.expectOpcode(t, wire.NoMessage)

	// the same session must still serve real requests
	c.send(t, func(w io.Writer) error {
		return wire.WriteOpcode(w, wire.GetAllConversationsRequest)
	})
	c.expectOpcode(t, wire.GetAllConversationsResponse)
	got, err := wire.ReadCollection(c.r, wire.ReadSummary)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no conversations, got %d", len(got))
	}
}

func TestSessionOversizeUserListIsTruncated(t *testing.T) {
	s := newTestServer(t, nil)
	for i := 0; i < wire.MaxCollectionLen+1; i++ {
		if _, err := store.AddUser(uuid.New(), fmt.Sprintf("u%d", i), int64(i)); err != nil {
			t.Fatal(err)
		}
	}
	c := dialSession(t, s)

	c.send(t, func(w io.Writer) error {
		if err := wire.WriteOpcode(w, wire.GetUsersExcludingRequest); err != nil {
			return err
		}
		return wire.WriteCollection(w, []uuid.UUID{}, wire.WriteID)
	})

	// the session must answer with a capped collection, not tear down
	c.expectOpcode(t, wire.GetUsersExcludingResponse)
	got, err := wire.ReadCollection(c.r, wire.ReadUser)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != wire.MaxCollectionLen {
		t.Fatalf("got %d users, want the %d cap", len(got), wire.MaxCollectionLen)
	}
	// oldest users first, so the truncation drops the newest
	if got[0].Name != "u0" {
		t.Fatalf("first user %q", got[0].Name)
	}
}

func TestCapMembers(t *testing.T) {
	members := make([]uuid.UUID, wire.MaxCollectionLen+5)
	for i := range members {
		members[i] = uuid.New()
	}
	cs := capMembers([]models.Conversation{{ID: uuid.New(), Members: members}})
	if len(cs[0].Members) != wire.MaxCollectionLen {
		t.Fatalf("members %d, want the %d cap", len(cs[0].Members), wire.MaxCollectionLen)
	}
}

func TestSessionRejectsMessageToUnknownConversation(t *testing.T) {
	s := newTestServer(t, nil)
	c := dialSession(t, s)

	c.send(t, func(w io.Writer) error {
		if err := wire.WriteOpcode(w, wire.NewMessageRequest); err != nil {
			return err
		}
		if err := wire.WriteID(w, uuid.New()); err != nil {
			return err
		}
		if err := wire.WriteID(w, uuid.New()); err != nil {
			return err
		}
		return wire.WriteString(w, "into the void")
	})

	c.expectOpcode(t, wire.NewMessageResponse)
	m, err := wire.ReadNullable(c.r, wire.ReadMessage)
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Fatalf("rejected request produced %+v", m)
	}
}

func TestSessionUserScoreUnknownUser(t *testing.T) {
	s := newTestServer(t, nil)
	c := dialSession(t, s)

	c.send(t, func(w io.Writer) error {
		if err := wire.WriteOpcode(w, wire.GetUserScoreRequest); err != nil {
			return err
		}
		return wire.WriteUser(w, models.User{ID: uuid.New(), Name: "ghost"})
	})

	c.expectOpcode(t, wire.GetUserScoreResponse)
	score, err := wire.ReadNullable(c.r, wire.ReadScore)
	if err != nil {
		t.Fatal(err)
	}
	if score != nil {
		t.Fatalf("unknown user produced score %+v", score)
	}
}

func TestSessionBroadcastToSubscriber(t *testing.T) {
	s := newTestServer(t, nil)

	u, _ := store.NewUser("ada")
	conv, _ := store.NewConversation("general", u.ID)

	viewer := dialSession(t, s)
	sender := dialSession(t, s)

	// viewer joins the conversation
	sum := conv.Summary()
	viewer.send(t, func(w io.Writer) error {
		if err := wire.WriteOpcode(w, wire.JoinConversationRequest); err != nil {
			return err
		}
		if err := wire.WriteNullable[models.ConversationSummary](w, nil, wire.WriteSummary); err != nil {
			return err
		}
		return wire.WriteNullable(w, &sum, wire.WriteSummary)
	})
	viewer.expectOpcode(t, wire.JoinConversationResponse)

	// sender creates a message in it
	sender.send(t, func(w io.Writer) error {
		if err := wire.WriteOpcode(w, wire.NewMessageRequest); err != nil {
			return err
		}
		if err := wire.WriteID(w, u.ID); err != nil {
			return err
		}
		if err := wire.WriteID(w, conv.ID); err != nil {
			return err
		}
		return wire.WriteString(w, "broadcast me")
	})
	sender.expectOpcode(t, wire.NewMessageResponse)
	if _, err := wire.ReadNullable(sender.r, wire.ReadMessage); err != nil {
		t.Fatal(err)
	}

	// the viewer receives the push without having asked
	viewer.expectOpcode(t, wire.MessageBroadcast)
	gotConv, err := wire.ReadID(viewer.r)
	if err != nil {
		t.Fatal(err)
	}
	if gotConv != conv.ID {
		t.Fatalf("broadcast for %s, want %s", gotConv, conv.ID)
	}
	m, err := wire.ReadMessage(viewer.r)
	if err != nil {
		t.Fatal(err)
	}
	if m.Content != "broadcast me" {
		t.Fatalf("broadcast content %q", m.Content)
	}
}

func TestSessionEndClosesCleanly(t *testing.T) {
	s := newTestServer(t, nil)
	local, remote := net.Pipe()
	sess := s.newSession(remote)
	done := make(chan struct{})
	go func() {
		sess.run()
		close(done)
	}()

	_ = local.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after peer close")
	}
	if s.broadcast.Size() != 0 {
		t.Fatalf("%d sessions still registered", s.broadcast.Size())
	}
}
