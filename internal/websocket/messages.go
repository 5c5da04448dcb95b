package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sanktgall/neumascribe/domain/entities"
	"github.com/sanktgall/neumascribe/domain/speech"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	// Client to server
	MessageTypeSessionStart     MessageType = "session.start"
	MessageTypeSessionReady     MessageType = "session.ready"
	MessageTypeSessionStop      MessageType = "session.stop"
	MessageTypeSpeechEvent      MessageType = "speech.event"
	MessageTypeAnnotationPlace  MessageType = "annotation.place"
	MessageTypeAnnotationUpdate MessageType = "annotation.update"
	MessageTypePing             MessageType = "ping"

	// Server to client
	MessageTypeSessionState     MessageType = "session.state"
	MessageTypeSpeechSend       MessageType = "speech.send"
	MessageTypeAnnotationsState MessageType = "annotations.state"
	MessageTypeConnectionsState MessageType = "connections.state"
	MessageTypeError            MessageType = "error"
	MessageTypePong             MessageType = "pong"
)

// Error codes carried by error messages
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeSessionClosed  = "session_closed"
	ErrorCodeSessionState   = "invalid_state"
	ErrorCodeAnnotation     = "invalid_annotation"
	ErrorCodeInternal       = "internal_error"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
}

// SessionStartMessage asks the server to begin annotating a manuscript
// page. It clears whatever the previous session left behind.
type SessionStartMessage struct {
	BaseMessage
	Manuscript string `json:"manuscript"`
}

// SessionReadyMessage tells the server the speech channel is up
type SessionReadyMessage struct {
	BaseMessage
}

// SessionStopMessage ends the session and archives its contents
type SessionStopMessage struct {
	BaseMessage
}

// SpeechEventMessage forwards one event from the provider data channel
type SpeechEventMessage struct {
	BaseMessage
	Event speech.ServerEvent `json:"event"`
}

// PlaceAnnotationMessage anchors a record to the manuscript. A missing
// or negative index addresses the most recent unplaced draft, which is
// what the marking tool produces right after a classification.
type PlaceAnnotationMessage struct {
	BaseMessage
	Index *int                  `json:"index,omitempty"`
	Box   *entities.BoundingBox `json:"box"`
}

// RecordIndex resolves the addressed record index
func (m *PlaceAnnotationMessage) RecordIndex() int {
	if m.Index == nil {
		return -1
	}
	return *m.Index
}

// UpdateAnnotationMessage corrects the category or label of a draft
type UpdateAnnotationMessage struct {
	BaseMessage
	Index    *int   `json:"index"`
	Category string `json:"category"`
	Label    string `json:"label"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// SessionStateMessage reports the session lifecycle state
type SessionStateMessage struct {
	BaseMessage
	SessionID  string                 `json:"session_id"`
	Status     entities.SessionStatus `json:"status"`
	Manuscript string                 `json:"manuscript,omitempty"`
}

// SpeechSendMessage carries an event the browser must forward to the
// speech model over the data channel
type SpeechSendMessage struct {
	BaseMessage
	Event speech.ClientEvent `json:"event"`
}

// AnnotationsStateMessage broadcasts the full record sequence
type AnnotationsStateMessage struct {
	BaseMessage
	SessionID string                      `json:"session_id"`
	Records   []entities.AnnotationRecord `json:"records"`
}

// ConnectionsStateMessage broadcasts the full inferred connection set
type ConnectionsStateMessage struct {
	BaseMessage
	SessionID   string                `json:"session_id"`
	Connections []entities.Connection `json:"connections"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage validates an incoming message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	// First parse as base message to get type
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeSessionStart:
		var msg SessionStartMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid session start message: %w", err)
		}
		if msg.Manuscript == "" {
			return nil, fmt.Errorf("manuscript is required")
		}
		return &msg, nil

	case MessageTypeSessionReady:
		var msg SessionReadyMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid session ready message: %w", err)
		}
		return &msg, nil

	case MessageTypeSessionStop:
		var msg SessionStopMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid session stop message: %w", err)
		}
		return &msg, nil

	case MessageTypeSpeechEvent:
		var msg SpeechEventMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid speech event message: %w", err)
		}
		if msg.Event.Type == "" {
			return nil, fmt.Errorf("event type is required")
		}
		return &msg, nil

	case MessageTypeAnnotationPlace:
		var msg PlaceAnnotationMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid annotation place message: %w", err)
		}
		if err := v.validatePlaceAnnotation(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeAnnotationUpdate:
		var msg UpdateAnnotationMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid annotation update message: %w", err)
		}
		if err := v.validateUpdateAnnotation(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// validatePlaceAnnotation validates annotation place message fields
func (v *MessageValidator) validatePlaceAnnotation(msg *PlaceAnnotationMessage) error {
	if msg.Box == nil {
		return fmt.Errorf("box is required")
	}
	if msg.Box.Width < 0 || msg.Box.Height < 0 {
		return fmt.Errorf("box width and height must not be negative")
	}
	if msg.Index != nil && *msg.Index < -1 {
		return fmt.Errorf("index must be -1 or a record index")
	}
	return nil
}

// validateUpdateAnnotation validates annotation update message fields
func (v *MessageValidator) validateUpdateAnnotation(msg *UpdateAnnotationMessage) error {
	if msg.Index == nil {
		return fmt.Errorf("index is required")
	}
	if *msg.Index < 0 {
		return fmt.Errorf("index must not be negative")
	}
	if msg.Category == "" && msg.Label == "" {
		return fmt.Errorf("category or label is required")
	}
	return nil
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeError,
			Timestamp: time.Now().Format(time.RFC3339),
		},
		Code:    code,
		Message: message,
		Details: details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypePong,
			Timestamp: time.Now().Format(time.RFC3339),
		},
		Data: data,
	}
}

// CreateSessionStateMessage creates a session state message from the
// current session
func CreateSessionStateMessage(session *entities.AnnotationSession) *SessionStateMessage {
	return &SessionStateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeSessionState,
			Timestamp: time.Now().Format(time.RFC3339),
		},
		SessionID:  session.ID,
		Status:     session.Status,
		Manuscript: session.Manuscript,
	}
}

// CreateSpeechSendMessage wraps a client event for the browser to relay
func CreateSpeechSendMessage(event speech.ClientEvent) *SpeechSendMessage {
	return &SpeechSendMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeSpeechSend,
			Timestamp: time.Now().Format(time.RFC3339),
		},
		Event: event,
	}
}

// CreateAnnotationsStateMessage snapshots the session's records
func CreateAnnotationsStateMessage(session *entities.AnnotationSession) *AnnotationsStateMessage {
	return &AnnotationsStateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeAnnotationsState,
			Timestamp: time.Now().Format(time.RFC3339),
		},
		SessionID: session.ID,
		Records:   session.RecordsSnapshot(),
	}
}

// CreateConnectionsStateMessage snapshots the session's connections
func CreateConnectionsStateMessage(session *entities.AnnotationSession) *ConnectionsStateMessage {
	connections := make([]entities.Connection, len(session.Connections))
	copy(connections, session.Connections)

	return &ConnectionsStateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeConnectionsState,
			Timestamp: time.Now().Format(time.RFC3339),
		},
		SessionID:   session.ID,
		Connections: connections,
	}
}
