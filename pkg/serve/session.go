package serve

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/telemetry"
	"parley/pkg/wire"
)

// Session is one live client connection. Its read loop runs on a dedicated
// goroutine; writes from the dispatcher and from broadcast pushes are
// serialized by wmu so frames never interleave on the wire.
type Session struct {
	srv  *Server
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex
}

func (s *Server) newSession(conn net.Conn) *Session {
	return &Session{
		srv:  s,
		conn: conn,
		r:    bufio.NewReader(conn),
	}
}

// run serves requests until the peer closes the stream or an I/O fault
// occurs. A dead connection is torn down, never retried.
func (sess *Session) run() {
	remote := sess.conn.RemoteAddr()
	sess.srv.broadcast.Register(sess)
	telemetry.SessionsLive.Inc()
	logger.Info("session_opened", "remote", remote)

	defer func() {
		sess.srv.broadcast.Unregister(sess)
		telemetry.SessionsLive.Dec()
		_ = sess.conn.Close()
		logger.Info("session_closed", "remote", remote)
	}()

	for {
		op, err := wire.ReadOpcode(sess.r)
		if err != nil {
			logger.Warn("session_read_failed", "remote", remote, "error", err)
			return
		}
		stop, err := sess.dispatch(op)
		if err != nil {
			logger.Warn("session_dispatch_failed", "remote", remote, "opcode", int32(op), "error", err)
			return
		}
		if stop {
			return
		}
	}
}

// writeFrame stages a frame in a pooled buffer and writes it with a single
// serialized Write, so concurrent broadcast pushes cannot interleave with
// a response on the same stream.
func (sess *Session) writeFrame(encode func(io.Writer) error) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := encode(buf); err != nil {
		return err
	}

	sess.wmu.Lock()
	defer sess.wmu.Unlock()
	_, err := sess.conn.Write(buf.B)
	return err
}

// PushMessage implements broadcast.Subscriber.
func (sess *Session) PushMessage(conversation uuid.UUID, m models.Message) error {
	telemetry.BroadcastsTotal.WithLabelValues("message").Inc()
	return sess.writeFrame(func(w io.Writer) error {
		if err := wire.WriteOpcode(w, wire.MessageBroadcast); err != nil {
			return err
		}
		if err := wire.WriteID(w, conversation); err != nil {
			return err
		}
		return wire.WriteMessage(w, m)
	})
}

// PushConversation implements broadcast.Subscriber.
func (sess *Session) PushConversation(s models.ConversationSummary) error {
	telemetry.BroadcastsTotal.WithLabelValues("conversation").Inc()
	return sess.writeFrame(func(w io.Writer) error {
		if err := wire.WriteOpcode(w, wire.ConversationBroadcast); err != nil {
			return err
		}
		return wire.WriteSummary(w, s)
	})
}
