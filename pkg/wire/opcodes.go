package wire

// Opcode identifies one request, response or push frame on the wire.
type Opcode int32

// SessionEnd is the pseudo-opcode reported when the peer has closed the
// stream; it never appears inside a frame.
const SessionEnd Opcode = -1

const (
	// NoMessage acknowledges a request the server could not recognize.
	// Unknown opcodes get this single-field reply instead of an error so
	// newer clients can talk to older servers.
	NoMessage Opcode = iota

	NewMessageRequest
	NewMessageResponse
	NewUserRequest
	NewUserResponse
	NewConversationRequest
	NewConversationResponse

	GetUsersByIDRequest
	GetUsersByIDResponse
	GetAllConversationsRequest
	GetAllConversationsResponse
	GetConversationsByIDRequest
	GetConversationsByIDResponse
	GetMessagesByIDRequest
	GetMessagesByIDResponse
	GetUserGenerationRequest
	GetUserGenerationResponse
	GetUsersExcludingRequest
	GetUsersExcludingResponse
	GetConversationsByTimeRequest
	GetConversationsByTimeResponse
	GetConversationsByTitleRequest
	GetConversationsByTitleResponse
	GetMessagesByTimeRequest
	GetMessagesByTimeResponse
	GetMessagesByRangeRequest
	GetMessagesByRangeResponse

	JoinConversationRequest
	JoinConversationResponse
	GetUserScoreRequest
	GetUserScoreResponse

	// Server-initiated pushes to subscribed connections.
	MessageBroadcast
	ConversationBroadcast

	// Relay channel frames.
	RelayReadRequest
	RelayReadResponse
	RelayWriteRequest
	RelayWriteResponse
)

var opcodeNames = map[Opcode]string{
	SessionEnd:                      "SESSION_END",
	NoMessage:                       "NO_MESSAGE",
	NewMessageRequest:               "NEW_MESSAGE_REQUEST",
	NewMessageResponse:              "NEW_MESSAGE_RESPONSE",
	NewUserRequest:                  "NEW_USER_REQUEST",
	NewUserResponse:                 "NEW_USER_RESPONSE",
	NewConversationRequest:          "NEW_CONVERSATION_REQUEST",
	NewConversationResponse:         "NEW_CONVERSATION_RESPONSE",
	GetUsersByIDRequest:             "GET_USERS_BY_ID_REQUEST",
	GetUsersByIDResponse:            "GET_USERS_BY_ID_RESPONSE",
	GetAllConversationsRequest:      "GET_ALL_CONVERSATIONS_REQUEST",
	GetAllConversationsResponse:     "GET_ALL_CONVERSATIONS_RESPONSE",
	GetConversationsByIDRequest:     "GET_CONVERSATIONS_BY_ID_REQUEST",
	GetConversationsByIDResponse:    "GET_CONVERSATIONS_BY_ID_RESPONSE",
	GetMessagesByIDRequest:          "GET_MESSAGES_BY_ID_REQUEST",
	GetMessagesByIDResponse:         "GET_MESSAGES_BY_ID_RESPONSE",
	GetUserGenerationRequest:        "GET_USER_GENERATION_REQUEST",
	GetUserGenerationResponse:       "GET_USER_GENERATION_RESPONSE",
	GetUsersExcludingRequest:        "GET_USERS_EXCLUDING_REQUEST",
	GetUsersExcludingResponse:       "GET_USERS_EXCLUDING_RESPONSE",
	GetConversationsByTimeRequest:   "GET_CONVERSATIONS_BY_TIME_REQUEST",
	GetConversationsByTimeResponse:  "GET_CONVERSATIONS_BY_TIME_RESPONSE",
	GetConversationsByTitleRequest:  "GET_CONVERSATIONS_BY_TITLE_REQUEST",
	GetConversationsByTitleResponse: "GET_CONVERSATIONS_BY_TITLE_RESPONSE",
	GetMessagesByTimeRequest:        "GET_MESSAGES_BY_TIME_REQUEST",
	GetMessagesByTimeResponse:       "GET_MESSAGES_BY_TIME_RESPONSE",
	GetMessagesByRangeRequest:       "GET_MESSAGES_BY_RANGE_REQUEST",
	GetMessagesByRangeResponse:      "GET_MESSAGES_BY_RANGE_RESPONSE",
	JoinConversationRequest:         "JOIN_CONVERSATION_REQUEST",
	JoinConversationResponse:        "JOIN_CONVERSATION_RESPONSE",
	GetUserScoreRequest:             "GET_USER_SCORE_REQUEST",
	GetUserScoreResponse:            "GET_USER_SCORE_RESPONSE",
	MessageBroadcast:                "MESSAGE_BROADCAST",
	ConversationBroadcast:           "CONVERSATION_BROADCAST",
	RelayReadRequest:                "RELAY_READ_REQUEST",
	RelayReadResponse:               "RELAY_READ_RESPONSE",
	RelayWriteRequest:               "RELAY_WRITE_REQUEST",
	RelayWriteResponse:              "RELAY_WRITE_RESPONSE",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "UNKNOWN"
}
