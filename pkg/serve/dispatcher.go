package serve

import (
	"io"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/store"
	"parley/pkg/telemetry"
	"parley/pkg/wire"
)

// handlers is the opcode table. Each handler reads its fixed request
// fields, performs the operation and writes exactly one response frame.
var handlers = map[wire.Opcode]func(*Session) error{
	wire.NewMessageRequest:              (*Session).handleNewMessage,
	wire.NewUserRequest:                 (*Session).handleNewUser,
	wire.NewConversationRequest:         (*Session).handleNewConversation,
	wire.GetUsersByIDRequest:            (*Session).handleGetUsersByID,
	wire.GetAllConversationsRequest:     (*Session).handleGetAllConversations,
	wire.GetConversationsByIDRequest:    (*Session).handleGetConversationsByID,
	wire.GetMessagesByIDRequest:         (*Session).handleGetMessagesByID,
	wire.GetUserGenerationRequest:       (*Session).handleGetUserGeneration,
	wire.GetUsersExcludingRequest:       (*Session).handleGetUsersExcluding,
	wire.GetConversationsByTimeRequest:  (*Session).handleGetConversationsByTime,
	wire.GetConversationsByTitleRequest: (*Session).handleGetConversationsByTitle,
	wire.GetMessagesByTimeRequest:       (*Session).handleGetMessagesByTime,
	wire.GetMessagesByRangeRequest:      (*Session).handleGetMessagesByRange,
	wire.JoinConversationRequest:        (*Session).handleJoinConversation,
	wire.GetUserScoreRequest:            (*Session).handleGetUserScore,
}

// dispatch serves one request/response exchange. A SessionEnd opcode means
// the peer closed the stream: stop without writing anything. Unknown
// opcodes are answered with NoMessage and the session stays open.
func (sess *Session) dispatch(op wire.Opcode) (stop bool, err error) {
	if op == wire.SessionEnd {
		return true, nil
	}
	telemetry.RequestsTotal.WithLabelValues(op.String()).Inc()
	h, ok := handlers[op]
	if !ok {
		logger.Debug("unknown_opcode", "opcode", int32(op))
		return false, sess.writeFrame(func(w io.Writer) error {
			return wire.WriteOpcode(w, wire.NoMessage)
		})
	}
	return false, h(sess)
}

// respondNullable writes op then a nullable value; v is nil when the
// operation could not be serviced. Every failure is absorbed into an
// absent field, never surfaced as a protocol error.
func respondNullable[T any](sess *Session, op wire.Opcode, v *T, write func(io.Writer, T) error) error {
	return sess.writeFrame(func(w io.Writer) error {
		if err := wire.WriteOpcode(w, op); err != nil {
			return err
		}
		return wire.WriteNullable(w, v, write)
	})
}

// respondCollection writes op then a bounded ordered collection. Store
// results can outgrow the protocol's collection cap; the response carries
// the first MaxCollectionLen items rather than failing the session.
func respondCollection[T any](sess *Session, op wire.Opcode, items []T, write func(io.Writer, T) error) error {
	if len(items) > wire.MaxCollectionLen {
		items = items[:wire.MaxCollectionLen]
	}
	return sess.writeFrame(func(w io.Writer) error {
		if err := wire.WriteOpcode(w, op); err != nil {
			return err
		}
		return wire.WriteCollection(w, items, write)
	})
}

// capMembers truncates member lists that exceed the collection cap, for
// the same reason respondCollection truncates.
func capMembers(cs []models.Conversation) []models.Conversation {
	for i := range cs {
		if len(cs[i].Members) > wire.MaxCollectionLen {
			cs[i].Members = cs[i].Members[:wire.MaxCollectionLen]
		}
	}
	return cs
}

func (sess *Session) handleNewMessage() error {
	author, err := wire.ReadID(sess.r)
	if err != nil {
		return err
	}
	conversation, err := wire.ReadID(sess.r)
	if err != nil {
		return err
	}
	content, err := wire.ReadString(sess.r)
	if err != nil {
		return err
	}

	m, err := store.NewMessage(author, conversation, content)
	if err != nil {
		logger.Warn("new_message_rejected", "author", author, "conversation", conversation, "error", err)
		return respondNullable[models.Message](sess, wire.NewMessageResponse, nil, wire.WriteMessage)
	}
	if err := respondNullable(sess, wire.NewMessageResponse, &m, wire.WriteMessage); err != nil {
		return err
	}

	// Fan out after the direct response, then queue outbound replication
	// for this one message.
	sess.srv.broadcast.AddMessage(conversation, m)
	sess.srv.timeline.ScheduleNow(sess.srv.relayPush(author, conversation, m.ID))
	return nil
}

func (sess *Session) handleNewUser() error {
	name, err := wire.ReadString(sess.r)
	if err != nil {
		return err
	}
	u, err := store.NewUser(name)
	if err != nil {
		logger.Warn("new_user_rejected", "name", name, "error", err)
		return respondNullable[models.User](sess, wire.NewUserResponse, nil, wire.WriteUser)
	}
	return respondNullable(sess, wire.NewUserResponse, &u, wire.WriteUser)
}

func (sess *Session) handleNewConversation() error {
	title, err := wire.ReadString(sess.r)
	if err != nil {
		return err
	}
	owner, err := wire.ReadID(sess.r)
	if err != nil {
		return err
	}
	c, err := store.NewConversation(title, owner)
	if err != nil {
		logger.Warn("new_conversation_rejected", "owner", owner, "error", err)
		return respondNullable[models.Conversation](sess, wire.NewConversationResponse, nil, wire.WriteConversation)
	}
	if err := respondNullable(sess, wire.NewConversationResponse, &c, wire.WriteConversation); err != nil {
		return err
	}

	// New conversations go to every live connection; nobody subscribes to
	// a conversation they have not seen yet.
	sess.srv.broadcast.AddConversation(c.Summary())
	return nil
}

func (sess *Session) handleGetUsersByID() error {
	ids, err := wire.ReadCollection(sess.r, wire.ReadID)
	if err != nil {
		return err
	}
	return respondCollection(sess, wire.GetUsersByIDResponse, store.UsersByID(ids), wire.WriteUser)
}

func (sess *Session) handleGetAllConversations() error {
	return respondCollection(sess, wire.GetAllConversationsResponse, store.AllConversations(), wire.WriteSummary)
}

func (sess *Session) handleGetConversationsByID() error {
	ids, err := wire.ReadCollection(sess.r, wire.ReadID)
	if err != nil {
		return err
	}
	return respondCollection(sess, wire.GetConversationsByIDResponse, capMembers(store.ConversationsByID(ids)), wire.WriteConversation)
}

func (sess *Session) handleGetMessagesByID() error {
	ids, err := wire.ReadCollection(sess.r, wire.ReadID)
	if err != nil {
		return err
	}
	return respondCollection(sess, wire.GetMessagesByIDResponse, store.MessagesByID(ids), wire.WriteMessage)
}

func (sess *Session) handleGetUserGeneration() error {
	gen := store.UserGeneration()
	return sess.writeFrame(func(w io.Writer) error {
		if err := wire.WriteOpcode(w, wire.GetUserGenerationResponse); err != nil {
			return err
		}
		return wire.WriteID(w, gen)
	})
}

func (sess *Session) handleGetUsersExcluding() error {
	ids, err := wire.ReadCollection(sess.r, wire.ReadID)
	if err != nil {
		return err
	}
	return respondCollection(sess, wire.GetUsersExcludingResponse, store.UsersExcluding(ids), wire.WriteUser)
}

func (sess *Session) handleGetConversationsByTime() error {
	start, err := wire.ReadTime(sess.r)
	if err != nil {
		return err
	}
	end, err := wire.ReadTime(sess.r)
	if err != nil {
		return err
	}
	return respondCollection(sess, wire.GetConversationsByTimeResponse, capMembers(store.ConversationsByTime(start, end)), wire.WriteConversation)
}

func (sess *Session) handleGetConversationsByTitle() error {
	filter, err := wire.ReadString(sess.r)
	if err != nil {
		return err
	}
	return respondCollection(sess, wire.GetConversationsByTitleResponse, capMembers(store.ConversationsByTitle(filter)), wire.WriteConversation)
}

func (sess *Session) handleGetMessagesByTime() error {
	conversation, err := wire.ReadID(sess.r)
	if err != nil {
		return err
	}
	start, err := wire.ReadTime(sess.r)
	if err != nil {
		return err
	}
	end, err := wire.ReadTime(sess.r)
	if err != nil {
		return err
	}
	return respondCollection(sess, wire.GetMessagesByTimeResponse, store.MessagesByTime(conversation, start, end), wire.WriteMessage)
}

func (sess *Session) handleGetMessagesByRange() error {
	root, err := wire.ReadID(sess.r)
	if err != nil {
		return err
	}
	count, err := wire.ReadInt32(sess.r)
	if err != nil {
		return err
	}
	if count < 0 {
		count = 0
	}
	if count > wire.MaxCollectionLen {
		count = wire.MaxCollectionLen
	}
	return respondCollection(sess, wire.GetMessagesByRangeResponse, store.MessagesByRange(root, int(count)), wire.WriteMessage)
}

func (sess *Session) handleJoinConversation() error {
	old, err := wire.ReadNullable(sess.r, wire.ReadSummary)
	if err != nil {
		return err
	}
	next, err := wire.ReadNullable(sess.r, wire.ReadSummary)
	if err != nil {
		return err
	}
	sess.srv.broadcast.SwitchConversation(sess, old, next)
	return sess.writeFrame(func(w io.Writer) error {
		return wire.WriteOpcode(w, wire.JoinConversationResponse)
	})
}

func (sess *Session) handleGetUserScore() error {
	u, err := wire.ReadUser(sess.r)
	if err != nil {
		return err
	}
	found, err := store.UserByID(u.ID)
	if err != nil {
		logger.Warn("user_score_unknown_user", "user", u.ID)
		return respondNullable[models.SentimentScore](sess, wire.GetUserScoreResponse, nil, wire.WriteScore)
	}
	return respondNullable(sess, wire.GetUserScoreResponse, &found.Score, wire.WriteScore)
}
