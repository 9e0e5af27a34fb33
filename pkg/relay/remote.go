package relay

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"parley/pkg/wire"
)

const defaultTimeout = 10 * time.Second

// Remote talks to a relay peer over TCP using the wire codec. Each call is
// one dial / request / response round trip; there is no connection reuse
// and no retry, matching the fire-and-forget push contract.
type Remote struct {
	addr    string
	timeout time.Duration
}

// NewRemote returns a relay client for addr (host:port). A non-positive
// timeout falls back to 10s per round trip.
func NewRemote(addr string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Remote{addr: addr, timeout: timeout}
}

func (r *Remote) Read(serverID uuid.UUID, secret []byte, since uuid.UUID, max int) ([]Bundle, error) {
	conn, err := net.DialTimeout("tcp", r.addr, r.timeout)
	if err != nil {
		return nil, fmt.Errorf("relay dial %s: %w", r.addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(r.timeout))

	w := bufio.NewWriter(conn)
	if err := wire.WriteOpcode(w, wire.RelayReadRequest); err != nil {
		return nil, err
	}
	if err := writeCredentials(w, serverID, secret); err != nil {
		return nil, err
	}
	if err := wire.WriteID(w, since); err != nil {
		return nil, err
	}
	if err := wire.WriteInt32(w, int32(max)); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("relay read request: %w", err)
	}

	br := bufio.NewReader(conn)
	op, err := wire.ReadOpcode(br)
	if err != nil {
		return nil, fmt.Errorf("relay read response: %w", err)
	}
	if op != wire.RelayReadResponse {
		return nil, fmt.Errorf("relay read: unexpected opcode %d", op)
	}
	return wire.ReadCollection(br, ReadBundle)
}

func (r *Remote) Write(serverID uuid.UUID, secret []byte, user, conversation, message Component) error {
	conn, err := net.DialTimeout("tcp", r.addr, r.timeout)
	if err != nil {
		return fmt.Errorf("relay dial %s: %w", r.addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(r.timeout))

	w := bufio.NewWriter(conn)
	if err := wire.WriteOpcode(w, wire.RelayWriteRequest); err != nil {
		return err
	}
	if err := writeCredentials(w, serverID, secret); err != nil {
		return err
	}
	for _, c := range []Component{user, conversation, message} {
		if err := WriteComponent(w, c); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("relay write request: %w", err)
	}

	br := bufio.NewReader(conn)
	op, err := wire.ReadOpcode(br)
	if err != nil {
		return fmt.Errorf("relay write response: %w", err)
	}
	if op != wire.RelayWriteResponse {
		return fmt.Errorf("relay write: unexpected opcode %d", op)
	}
	ok, err := wire.ReadInt32(br)
	if err != nil {
		return err
	}
	if ok == 0 {
		return fmt.Errorf("relay write rejected for server %s", serverID)
	}
	return nil
}

func writeCredentials(w *bufio.Writer, serverID uuid.UUID, secret []byte) error {
	if err := wire.WriteID(w, serverID); err != nil {
		return err
	}
	return wire.WriteString(w, string(secret))
}
