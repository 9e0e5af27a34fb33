// Package wire implements the fixed binary encoding shared by the client
// protocol and the relay channel. All integers are big-endian; strings are
// length-prefixed UTF-8; identifiers are raw 16-byte UUIDs with uuid.Nil as
// the null value. The codec is pure: it never retries I/O and any short
// read surfaces as an error to the caller.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"parley/pkg/models"
)

// Decode bounds. A frame that claims more than these is treated as a
// protocol violation, not an allocation request.
const (
	MaxStringLen     = 1 << 20
	MaxCollectionLen = 4096
)

var (
	ErrStringTooLong  = errors.New("wire: string length exceeds limit")
	ErrCollectionSize = errors.New("wire: collection size out of range")
)

// WriteInt32 writes v as 4 big-endian bytes.
func WriteInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

// ReadInt32 reads 4 big-endian bytes.
func ReadInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

// WriteInt64 writes v as 8 big-endian bytes.
func WriteInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

// ReadInt64 reads 8 big-endian bytes.
func ReadInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// WriteOpcode writes a frame opcode.
func WriteOpcode(w io.Writer, op Opcode) error {
	return WriteInt32(w, int32(op))
}

// ReadOpcode reads the next frame opcode. A clean EOF before the first
// byte means the peer closed the stream and is reported as SessionEnd
// with a nil error.
func ReadOpcode(r io.Reader) (Opcode, error) {
	v, err := ReadInt32(r)
	if err == io.EOF {
		return SessionEnd, nil
	}
	if err != nil {
		return SessionEnd, err
	}
	return Opcode(v), nil
}

// WriteString writes a length-prefixed UTF-8 string.
func WriteString(w io.Writer, s string) error {
	if len(s) > MaxStringLen {
		return ErrStringTooLong
	}
	if err := WriteInt32(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadString reads a length-prefixed UTF-8 string.
func ReadString(r io.Reader) (string, error) {
	n, err := ReadInt32(r)
	if err != nil {
		return "", err
	}
	if n < 0 || n > MaxStringLen {
		return "", ErrStringTooLong
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteID writes an identifier as its raw 16 bytes.
func WriteID(w io.Writer, id uuid.UUID) error {
	_, err := w.Write(id[:])
	return err
}

// ReadID reads a raw 16-byte identifier.
func ReadID(r io.Reader) (uuid.UUID, error) {
	var id uuid.UUID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// WriteTime writes a Unix-millisecond timestamp.
func WriteTime(w io.Writer, ms int64) error {
	return WriteInt64(w, ms)
}

// ReadTime reads a Unix-millisecond timestamp.
func ReadTime(r io.Reader) (int64, error) {
	return ReadInt64(r)
}

// WriteNullable writes a presence byte followed by the value when non-nil.
func WriteNullable[T any](w io.Writer, v *T, write func(io.Writer, T) error) error {
	if v == nil {
		_, err := w.Write([]byte{0})
		return err
	}
	if _, err := w.Write([]byte{1}); err != nil {
		return err
	}
	return write(w, *v)
}

// ReadNullable reads a presence byte and, when set, the value.
func ReadNullable[T any](r io.Reader, read func(io.Reader) (T, error)) (*T, error) {
	var flag [1]byte
	if _, err := io.ReadFull(r, flag[:]); err != nil {
		return nil, err
	}
	switch flag[0] {
	case 0:
		return nil, nil
	case 1:
		v, err := read(r)
		if err != nil {
			return nil, err
		}
		return &v, nil
	default:
		return nil, fmt.Errorf("wire: invalid presence flag %d", flag[0])
	}
}

// WriteCollection writes a count-prefixed ordered collection.
func WriteCollection[T any](w io.Writer, items []T, write func(io.Writer, T) error) error {
	if len(items) > MaxCollectionLen {
		return ErrCollectionSize
	}
	if err := WriteInt32(w, int32(len(items))); err != nil {
		return err
	}
	for _, item := range items {
		if err := write(w, item); err != nil {
			return err
		}
	}
	return nil
}

// ReadCollection reads a count-prefixed ordered collection.
func ReadCollection[T any](r io.Reader, read func(io.Reader) (T, error)) ([]T, error) {
	n, err := ReadInt32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > MaxCollectionLen {
		return nil, ErrCollectionSize
	}
	items := make([]T, 0, n)
	for i := int32(0); i < n; i++ {
		item, err := read(r)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// WriteUser encodes a User with its sentiment aggregate.
func WriteUser(w io.Writer, u models.User) error {
	if err := WriteID(w, u.ID); err != nil {
		return err
	}
	if err := WriteString(w, u.Name); err != nil {
		return err
	}
	if err := WriteTime(w, u.Creation); err != nil {
		return err
	}
	return WriteScore(w, u.Score)
}

// ReadUser decodes a User.
func ReadUser(r io.Reader) (models.User, error) {
	var u models.User
	var err error
	if u.ID, err = ReadID(r); err != nil {
		return u, err
	}
	if u.Name, err = ReadString(r); err != nil {
		return u, err
	}
	if u.Creation, err = ReadTime(r); err != nil {
		return u, err
	}
	u.Score, err = ReadScore(r)
	return u, err
}

// WriteSummary encodes a ConversationSummary.
func WriteSummary(w io.Writer, s models.ConversationSummary) error {
	if err := WriteID(w, s.ID); err != nil {
		return err
	}
	if err := WriteID(w, s.Owner); err != nil {
		return err
	}
	if err := WriteTime(w, s.Creation); err != nil {
		return err
	}
	return WriteString(w, s.Title)
}

// ReadSummary decodes a ConversationSummary.
func ReadSummary(r io.Reader) (models.ConversationSummary, error) {
	var s models.ConversationSummary
	var err error
	if s.ID, err = ReadID(r); err != nil {
		return s, err
	}
	if s.Owner, err = ReadID(r); err != nil {
		return s, err
	}
	if s.Creation, err = ReadTime(r); err != nil {
		return s, err
	}
	s.Title, err = ReadString(r)
	return s, err
}

// WriteConversation encodes a full Conversation.
func WriteConversation(w io.Writer, c models.Conversation) error {
	if err := WriteSummary(w, c.Summary()); err != nil {
		return err
	}
	if err := WriteCollection(w, c.Members, WriteID); err != nil {
		return err
	}
	if err := WriteID(w, c.FirstMessage); err != nil {
		return err
	}
	return WriteID(w, c.LastMessage)
}

// ReadConversation decodes a full Conversation.
func ReadConversation(r io.Reader) (models.Conversation, error) {
	var c models.Conversation
	s, err := ReadSummary(r)
	if err != nil {
		return c, err
	}
	c.ID, c.Owner, c.Creation, c.Title = s.ID, s.Owner, s.Creation, s.Title
	if c.Members, err = ReadCollection(r, ReadID); err != nil {
		return c, err
	}
	if c.FirstMessage, err = ReadID(r); err != nil {
		return c, err
	}
	c.LastMessage, err = ReadID(r)
	return c, err
}

// WriteMessage encodes a Message.
func WriteMessage(w io.Writer, m models.Message) error {
	if err := WriteID(w, m.ID); err != nil {
		return err
	}
	if err := WriteID(w, m.Previous); err != nil {
		return err
	}
	if err := WriteID(w, m.Next); err != nil {
		return err
	}
	if err := WriteTime(w, m.Creation); err != nil {
		return err
	}
	if err := WriteID(w, m.Author); err != nil {
		return err
	}
	if err := WriteID(w, m.Conversation); err != nil {
		return err
	}
	return WriteString(w, m.Content)
}

// ReadMessage decodes a Message.
func ReadMessage(r io.Reader) (models.Message, error) {
	var m models.Message
	var err error
	if m.ID, err = ReadID(r); err != nil {
		return m, err
	}
	if m.Previous, err = ReadID(r); err != nil {
		return m, err
	}
	if m.Next, err = ReadID(r); err != nil {
		return m, err
	}
	if m.Creation, err = ReadTime(r); err != nil {
		return m, err
	}
	if m.Author, err = ReadID(r); err != nil {
		return m, err
	}
	if m.Conversation, err = ReadID(r); err != nil {
		return m, err
	}
	m.Content, err = ReadString(r)
	return m, err
}

// WriteScore encodes a SentimentScore.
func WriteScore(w io.Writer, s models.SentimentScore) error {
	if err := WriteInt32(w, s.Count); err != nil {
		return err
	}
	return WriteInt64(w, s.Total)
}

// ReadScore decodes a SentimentScore.
func ReadScore(r io.Reader) (models.SentimentScore, error) {
	var s models.SentimentScore
	var err error
	if s.Count, err = ReadInt32(r); err != nil {
		return s, err
	}
	s.Total, err = ReadInt64(r)
	return s, err
}
