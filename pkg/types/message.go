package types

import (
	"encoding/json"
	"time"
)

// InboundMessage is the decoded form of a client frame. Kind-specific
// fields are populated according to Type; Raw retains the original payload
// so unrecognized kinds can be forwarded to an extension handler intact.
type InboundMessage struct {
	Type        string
	Credentials *Credentials
	RoomID      string
	Content     interface{}
	Metadata    map[string]interface{}
	Raw         json.RawMessage
}

// envelope is the wire shape shared by all inbound frames.
type envelope struct {
	Type        string                 `json:"type"`
	Credentials *Credentials           `json:"credentials,omitempty"`
	RoomID      string                 `json:"roomId,omitempty"`
	Content     interface{}            `json:"content,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ParseMessage decodes a raw frame into an InboundMessage. It is the single
// parse step for all inbound traffic and fails closed: any payload that is
// not a JSON object with a string "type", or that is missing the fields its
// declared kind requires, yields an error and no message. A well-formed
// frame with an unrecognized type parses successfully so the server can
// route it to its extension handler.
func ParseMessage(data []byte) (*InboundMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformedMessage
	}
	if env.Type == "" {
		return nil, ErrMissingMessageType
	}

	msg := &InboundMessage{
		Type:        env.Type,
		Credentials: env.Credentials,
		RoomID:      env.RoomID,
		Content:     env.Content,
		Metadata:    env.Metadata,
		Raw:         json.RawMessage(data),
	}

	switch env.Type {
	case MessageTypeAuthenticate:
		if env.Credentials == nil || env.Credentials.Type == "" {
			return nil, ErrMissingCredentials
		}
	case MessageTypeRoomJoin, MessageTypeRoomLeave:
		if !IsValidRoomID(env.RoomID) {
			return nil, ErrInvalidRoomID
		}
	case MessageTypeRoomMessage:
		if !IsValidRoomID(env.RoomID) {
			return nil, ErrInvalidRoomID
		}
		if env.Content == nil {
			return nil, ErrMissingContent
		}
		if err := ValidateContent(env.Content); err != nil {
			return nil, err
		}
	case MessageTypePing:
		// No required fields.
	default:
		// Unknown kind: parsed envelope is forwarded as-is.
	}

	return msg, nil
}

// Outbound frames. Each kind is a distinct struct with its discriminator
// pre-filled by its constructor, so a frame can never be built with a
// mismatched type tag.

// AuthSuccessFrame acknowledges successful authentication.
type AuthSuccessFrame struct {
	Type     string                 `json:"type"`
	UserID   string                 `json:"userId"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AuthErrorFrame reports a failed or missing authentication.
type AuthErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// RoomJoinedFrame acknowledges a join and carries the current member list,
// including the joining client itself.
type RoomJoinedFrame struct {
	Type    string   `json:"type"`
	RoomID  string   `json:"roomId"`
	Clients []string `json:"clients"`
}

// RoomClientJoinedFrame notifies existing members that a client joined.
type RoomClientJoinedFrame struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	ClientID string `json:"clientId"`
}

// RoomLeftFrame acknowledges a leave. Sent even when the client was never
// a member: leave is idempotent.
type RoomLeftFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// RoomClientLeftFrame notifies remaining members that a client left.
type RoomClientLeftFrame struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	ClientID string `json:"clientId"`
}

// RoomMessageFrame is the fanned-out copy of a room message.
type RoomMessageFrame struct {
	Type      string      `json:"type"`
	RoomID    string      `json:"roomId"`
	ClientID  string      `json:"clientId"`
	Content   interface{} `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// PongFrame answers a ping.
type PongFrame struct {
	Type string `json:"type"`
}

// ErrorFrame reports a protocol or policy error to one client. The
// connection stays open unless the sender decides otherwise.
type ErrorFrame struct {
	Type      string    `json:"type"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// NewAuthSuccess builds an auth_success frame.
func NewAuthSuccess(userID string, metadata map[string]interface{}) *AuthSuccessFrame {
	return &AuthSuccessFrame{Type: MessageTypeAuthSuccess, UserID: userID, Metadata: metadata}
}

// NewAuthError builds an auth_error frame.
func NewAuthError(reason string) *AuthErrorFrame {
	return &AuthErrorFrame{Type: MessageTypeAuthError, Error: reason}
}

// NewRoomJoined builds a room:joined acknowledgment.
func NewRoomJoined(roomID string, clients []string) *RoomJoinedFrame {
	return &RoomJoinedFrame{Type: MessageTypeRoomJoined, RoomID: roomID, Clients: clients}
}

// NewRoomClientJoined builds a room:client_joined notification.
func NewRoomClientJoined(roomID, clientID string) *RoomClientJoinedFrame {
	return &RoomClientJoinedFrame{Type: MessageTypeRoomClientJoined, RoomID: roomID, ClientID: clientID}
}

// NewRoomLeft builds a room:left acknowledgment.
func NewRoomLeft(roomID string) *RoomLeftFrame {
	return &RoomLeftFrame{Type: MessageTypeRoomLeft, RoomID: roomID}
}

// NewRoomClientLeft builds a room:client_left notification.
func NewRoomClientLeft(roomID, clientID string) *RoomClientLeftFrame {
	return &RoomClientLeftFrame{Type: MessageTypeRoomClientLeft, RoomID: roomID, ClientID: clientID}
}

// NewRoomMessage builds an outbound room:message frame stamped with the
// current time.
func NewRoomMessage(roomID, clientID string, content interface{}) *RoomMessageFrame {
	return &RoomMessageFrame{
		Type:      MessageTypeRoomMessage,
		RoomID:    roomID,
		ClientID:  clientID,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewPong builds a pong frame.
func NewPong() *PongFrame {
	return &PongFrame{Type: MessageTypePong}
}

// NewErrorFrame builds an error frame stamped with the current time.
func NewErrorFrame(reason string) *ErrorFrame {
	return &ErrorFrame{Type: MessageTypeError, Error: reason, Timestamp: time.Now()}
}
