// Package relay is the cross-server replication channel. A server pulls
// bundles produced by its peers since a cursor and pushes bundles for its
// own newly created messages. NoOp satisfies the interface for standalone
// operation; Remote speaks the wire codec to a relay peer over TCP.
package relay

import (
	"io"

	"github.com/google/uuid"

	"parley/pkg/wire"
)

// Component is the minimal remote-update triple for one entity.
type Component struct {
	ID   uuid.UUID
	Text string
	Time int64
}

// Pack builds a component.
func Pack(id uuid.UUID, text string, time int64) Component {
	return Component{ID: id, Text: text, Time: time}
}

// Bundle is one replicated update: a user, a conversation and a message,
// tagged with an id usable as the next polling cursor.
type Bundle struct {
	ID           uuid.UUID
	User         Component
	Conversation Component
	Message      Component
}

// Relay is the replication channel contract.
type Relay interface {
	// Read returns up to max bundles produced after the since cursor, in
	// production order. uuid.Nil means "from the beginning".
	Read(serverID uuid.UUID, secret []byte, since uuid.UUID, max int) ([]Bundle, error)
	// Write pushes one locally produced update. Failures are the caller's
	// to log; the relay never retries.
	Write(serverID uuid.UUID, secret []byte, user, conversation, message Component) error
}

// NoOp is the standalone-mode relay: reads return nothing and writes are
// discarded.
type NoOp struct{}

func (NoOp) Read(uuid.UUID, []byte, uuid.UUID, int) ([]Bundle, error) {
	return nil, nil
}

func (NoOp) Write(uuid.UUID, []byte, Component, Component, Component) error {
	return nil
}

// WriteComponent encodes one component with the wire codec.
func WriteComponent(w io.Writer, c Component) error {
	if err := wire.WriteID(w, c.ID); err != nil {
		return err
	}
	if err := wire.WriteString(w, c.Text); err != nil {
		return err
	}
	return wire.WriteTime(w, c.Time)
}

// ReadComponent decodes one component.
func ReadComponent(r io.Reader) (Component, error) {
	var c Component
	var err error
	if c.ID, err = wire.ReadID(r); err != nil {
		return c, err
	}
	if c.Text, err = wire.ReadString(r); err != nil {
		return c, err
	}
	c.Time, err = wire.ReadTime(r)
	return c, err
}

// WriteBundle encodes one bundle.
func WriteBundle(w io.Writer, b Bundle) error {
	if err := wire.WriteID(w, b.ID); err != nil {
		return err
	}
	if err := WriteComponent(w, b.User); err != nil {
		return err
	}
	if err := WriteComponent(w, b.Conversation); err != nil {
		return err
	}
	return WriteComponent(w, b.Message)
}

// ReadBundle decodes one bundle.
func ReadBundle(r io.Reader) (Bundle, error) {
	var b Bundle
	var err error
	if b.ID, err = wire.ReadID(r); err != nil {
		return b, err
	}
	if b.User, err = ReadComponent(r); err != nil {
		return b, err
	}
	if b.Conversation, err = ReadComponent(r); err != nil {
		return b, err
	}
	b.Message, err = ReadComponent(r)
	return b, err
}
