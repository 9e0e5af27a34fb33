// Package serve is the network and replication engine: it owns the
// per-connection protocol sessions, the broadcast fan-out, and the relay
// merge/propagation logic, all driven by one cooperative timeline so
// relay polling and connection handoff never run concurrently with each
// other. Connection sessions themselves run on their own goroutines.
package serve

import (
	"net"
	"time"

	"github.com/google/uuid"

	"parley/pkg/broadcast"
	"parley/pkg/logger"
	"parley/pkg/relay"
	"parley/pkg/store"
	"parley/pkg/telemetry"
	"parley/pkg/timeline"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultPollBatch    = 32
)

// Options configures a Server.
type Options struct {
	// ID and Secret identify this server to the relay.
	ID     uuid.UUID
	Secret []byte
	// Relay is the replication channel; use relay.NoOp{} for standalone.
	Relay relay.Relay
	// PollInterval is the delay between inbound relay poll cycles.
	PollInterval time.Duration
	// PollBatch caps bundles pulled per cycle.
	PollBatch int
}

// Server dispatches client connections and keeps local state in sync with
// the relay.
type Server struct {
	id     uuid.UUID
	secret []byte
	relay  relay.Relay

	poll  time.Duration
	batch int

	timeline  *timeline.Timeline
	broadcast *broadcast.System
}

// New builds a server and schedules the first relay poll cycle. The cycle
// reschedules itself after every run regardless of outcome.
func New(opts Options) *Server {
	s := &Server{
		id:        opts.ID,
		secret:    append([]byte(nil), opts.Secret...),
		relay:     opts.Relay,
		poll:      opts.PollInterval,
		batch:     opts.PollBatch,
		timeline:  timeline.New(),
		broadcast: broadcast.New(),
	}
	if s.relay == nil {
		s.relay = relay.NoOp{}
	}
	if s.poll <= 0 {
		s.poll = defaultPollInterval
	}
	if s.batch <= 0 {
		s.batch = defaultPollBatch
	}

	var cycle func()
	cycle = func() {
		s.pollRelay()
		s.timeline.ScheduleIn(s.poll, cycle)
	}
	s.timeline.ScheduleNow(cycle)
	return s
}

// Broadcast exposes the fan-out registry, mainly for the admin surface.
func (s *Server) Broadcast() *broadcast.System {
	return s.broadcast
}

// Stop halts the timeline; queued relay work is dropped. Live sessions
// keep serving until their peers disconnect or the listener closes them.
func (s *Server) Stop() {
	s.timeline.Stop()
}

// HandleConnection hands an accepted connection to the timeline, which
// spawns the session goroutine. Acceptance therefore never blocks on
// replication work and vice versa.
func (s *Server) HandleConnection(conn net.Conn) {
	s.timeline.ScheduleNow(func() {
		sess := s.newSession(conn)
		go sess.run()
	})
}

// pollRelay runs one inbound cycle: pull up to batch bundles after the
// persisted cursor and ingest them in order. The cursor only advances past
// a bundle once it is fully merged; the first failure stalls the cycle so
// the next one retries from the same bundle instead of skipping it.
func (s *Server) pollRelay() {
	since := store.RelayCursor()
	bundles, err := s.relay.Read(s.id, s.secret, since, s.batch)
	if err != nil {
		logger.Warn("relay_pull_failed", "since", since, "error", err)
		telemetry.RelayCyclesTotal.WithLabelValues("error").Inc()
		return
	}

	for _, b := range bundles {
		if err := s.onBundle(b); err != nil {
			logger.Error("relay_ingest_stalled", "bundle", b.ID, "error", err)
			telemetry.RelayCyclesTotal.WithLabelValues("stalled").Inc()
			return
		}
		if err := store.SetRelayCursor(b.ID); err != nil {
			logger.Error("relay_cursor_persist_failed", "bundle", b.ID, "error", err)
			telemetry.RelayCyclesTotal.WithLabelValues("stalled").Inc()
			return
		}
		telemetry.RelayBundlesIngested.Inc()
	}
	telemetry.RelayCyclesTotal.WithLabelValues("ok").Inc()
}

// onBundle merges one remote update, strictly user then conversation then
// message. Each step is idempotent on the entity identifier, so replaying
// a bundle is a no-op.
func (s *Server) onBundle(b relay.Bundle) error {
	user, err := store.AddUser(b.User.ID, b.User.Text, b.User.Time)
	if err != nil {
		return err
	}

	// The relay does not say who created the conversation; the author of
	// the first message observed here becomes this server's owner of
	// record.
	conv, err := store.AddConversation(b.Conversation.ID, b.Conversation.Text, user.ID, b.Conversation.Time)
	if err != nil {
		return err
	}

	_, err = store.AddMessage(b.Message.ID, user.ID, conv.ID, b.Message.Text, b.Message.Time)
	return err
}

// relayPush re-reads the persisted entities and pushes their triples to
// the relay. Scheduled once per locally created message; a failed push is
// logged and never retried.
func (s *Server) relayPush(author, conversation, message uuid.UUID) func() {
	return func() {
		u, err := store.UserByID(author)
		if err != nil {
			logger.Error("relay_push_user_missing", "user", author, "error", err)
			return
		}
		c, err := store.ConversationByID(conversation)
		if err != nil {
			logger.Error("relay_push_conversation_missing", "conversation", conversation, "error", err)
			return
		}
		m, err := store.MessageByID(message)
		if err != nil {
			logger.Error("relay_push_message_missing", "message", message, "error", err)
			return
		}
		err = s.relay.Write(s.id, s.secret,
			relay.Pack(u.ID, u.Name, u.Creation),
			relay.Pack(c.ID, c.Title, c.Creation),
			relay.Pack(m.ID, m.Content, m.Creation))
		if err != nil {
			logger.Warn("relay_push_failed", "message", message, "error", err)
		}
	}
}
