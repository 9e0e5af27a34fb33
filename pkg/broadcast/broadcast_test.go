package broadcast

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"parley/pkg/models"
)

type fakeSub struct {
	messages      []models.Message
	conversations []models.ConversationSummary
	fail          bool
}

func (f *fakeSub) PushMessage(_ uuid.UUID, m models.Message) error {
	if f.fail {
		return errors.New("connection gone")
	}
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeSub) PushConversation(s models.ConversationSummary) error {
	if f.fail {
		return errors.New("connection gone")
	}
	f.conversations = append(f.conversations, s)
	return nil
}

func summary(id uuid.UUID) *models.ConversationSummary {
	return &models.ConversationSummary{ID: id, Owner: uuid.New(), Title: "t"}
}

func TestMessageGoesToSubscribersOnly(t *testing.T) {
	b := New()
	conv := uuid.New()
	other := uuid.New()

	viewer := &fakeSub{}
	elsewhere := &fakeSub{}
	idle := &fakeSub{}
	b.Register(viewer)
	b.Register(elsewhere)
	b.Register(idle)
	b.SwitchConversation(viewer, nil, summary(conv))
	b.SwitchConversation(elsewhere, nil, summary(other))

	m := models.Message{ID: uuid.New(), Conversation: conv, Content: "hi"}
	b.AddMessage(conv, m)

	if len(viewer.messages) != 1 || viewer.messages[0].ID != m.ID {
		t.Fatalf("viewer got %d messages", len(viewer.messages))
	}
	if len(elsewhere.messages) != 0 {
		t.Fatal("subscriber of another conversation received the message")
	}
	if len(idle.messages) != 0 {
		t.Fatal("unsubscribed connection received the message")
	}
}

func TestConversationGoesToEveryone(t *testing.T) {
	b := New()
	a := &fakeSub{}
	c := &fakeSub{}
	b.Register(a)
	b.Register(c)
	b.SwitchConversation(a, nil, summary(uuid.New()))

	s := models.ConversationSummary{ID: uuid.New(), Title: "new room"}
	b.AddConversation(s)

	if len(a.conversations) != 1 || len(c.conversations) != 1 {
		t.Fatalf("fan-out reached %d/%d", len(a.conversations), len(c.conversations))
	}
}

func TestSwitchConversation(t *testing.T) {
	b := New()
	s := &fakeSub{}
	b.Register(s)

	first := summary(uuid.New())
	second := summary(uuid.New())

	b.SwitchConversation(s, nil, first)
	if got, _ := b.Viewing(s); got != first.ID {
		t.Fatalf("viewing %s, want %s", got, first.ID)
	}

	b.SwitchConversation(s, first, second)
	if got, _ := b.Viewing(s); got != second.ID {
		t.Fatalf("viewing %s, want %s", got, second.ID)
	}

	// leaving resets to unsubscribed, not unregistered
	b.SwitchConversation(s, second, nil)
	got, ok := b.Viewing(s)
	if !ok || got != uuid.Nil {
		t.Fatalf("viewing (%s,%v) after leave", got, ok)
	}
}

func TestSwitchUnregisteredIsNoOp(t *testing.T) {
	b := New()
	s := &fakeSub{}
	b.SwitchConversation(s, nil, summary(uuid.New()))
	if _, ok := b.Viewing(s); ok {
		t.Fatal("switch registered an unknown connection")
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	b := New()
	conv := uuid.New()
	s := &fakeSub{}
	b.Register(s)
	b.SwitchConversation(s, nil, summary(conv))
	b.Unregister(s)

	b.AddMessage(conv, models.Message{ID: uuid.New()})
	if len(s.messages) != 0 {
		t.Fatal("unregistered connection received a message")
	}
	if b.Size() != 0 {
		t.Fatalf("size %d after unregister", b.Size())
	}
}

func TestFailedPushDoesNotStopFanOut(t *testing.T) {
	b := New()
	conv := uuid.New()
	bad := &fakeSub{fail: true}
	good := &fakeSub{}
	b.Register(bad)
	b.Register(good)
	b.SwitchConversation(bad, nil, summary(conv))
	b.SwitchConversation(good, nil, summary(conv))

	b.AddMessage(conv, models.Message{ID: uuid.New()})
	if len(good.messages) != 1 {
		t.Fatal("healthy subscriber starved by a failing one")
	}
}
