package models

import (
	"github.com/google/uuid"
)

// User is a chat participant. Users are created by an explicit request or
// by relay ingest and are never deleted. Score is the user's sentiment
// aggregate, updated only through the message-ingest path.
type User struct {
	ID       uuid.UUID      `json:"id"`
	Name     string         `json:"name"`
	Creation int64          `json:"creation"`
	Score    SentimentScore `json:"score"`
}

// ConversationSummary is the compact form of a conversation pushed to
// clients and used as a live connection's subscription key.
type ConversationSummary struct {
	ID       uuid.UUID `json:"id"`
	Owner    uuid.UUID `json:"owner"`
	Creation int64     `json:"creation"`
	Title    string    `json:"title"`
}

// Conversation is a titled message chain. Title and owner are fixed at
// creation; the chain only grows by appending messages at the tail.
type Conversation struct {
	ID           uuid.UUID   `json:"id"`
	Owner        uuid.UUID   `json:"owner"`
	Creation     int64       `json:"creation"`
	Title        string      `json:"title"`
	Members      []uuid.UUID `json:"members,omitempty"`
	FirstMessage uuid.UUID   `json:"first_message"`
	LastMessage  uuid.UUID   `json:"last_message"`
}

// Summary returns the compact view of the conversation.
func (c *Conversation) Summary() ConversationSummary {
	return ConversationSummary{ID: c.ID, Owner: c.Owner, Creation: c.Creation, Title: c.Title}
}

// Message is one immutable chat message. Previous and Next link the message
// into its conversation's chain; uuid.Nil marks the ends.
type Message struct {
	ID           uuid.UUID `json:"id"`
	Previous     uuid.UUID `json:"previous"`
	Next         uuid.UUID `json:"next"`
	Creation     int64     `json:"creation"`
	Author       uuid.UUID `json:"author"`
	Conversation uuid.UUID `json:"conversation"`
	Content      string    `json:"content"`
}

// SentimentScore is a per-user running aggregate over authored message
// content: how many messages were scored and their cumulative score.
type SentimentScore struct {
	Count int32 `json:"count"`
	Total int64 `json:"total"`
}
