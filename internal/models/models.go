// Package models defines the core data structures for IntakePipe.
//
// It includes the conversation session, the intake flow definition, the lead record,
// messaging events and the JSON envelopes shared by the HTTP API.
package models

import "time"

// Platform identifies where a conversation takes place.
type Platform string

const (
	// PlatformWeb is the embedded web chat widget.
	PlatformWeb Platform = "web"
	// PlatformMessaging is a messaging channel (WhatsApp through whatsmeow or Twilio).
	PlatformMessaging Platform = "messaging"
)

// IsValidPlatform reports whether p is a supported platform.
func IsValidPlatform(p Platform) bool {
	switch p {
	case PlatformWeb, PlatformMessaging:
		return true
	default:
		return false
	}
}

// MessageStatus represents the delivery status of an outgoing message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt is a delivery event for an outgoing message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// InboundMessage is a text message received from a messaging channel.
type InboundMessage struct {
	ID   string `json:"id,omitempty"` // transport message id, used for deduplication
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

// APIStatusError marks a failed API request.
const APIStatusError APIStatus = "error"

// APIResponse is the envelope written for failed requests. Successful requests return their
// document directly.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// StartConversationResponse is returned by POST /api/v1/conversation/start.
type StartConversationResponse struct {
	SessionID string `json:"sessionId"`
}

// RespondRequest is the body of POST /api/v1/conversation/respond.
type RespondRequest struct {
	Message   string   `json:"message" validate:"required,max=4096"`
	SessionID string   `json:"sessionId" validate:"required,max=128"`
	Platform  Platform `json:"platform" validate:"omitempty,oneof=web messaging"`
	MessageID string   `json:"messageId,omitempty" validate:"omitempty,max=128"`
}

// RespondResponse is returned by POST /api/v1/conversation/respond.
type RespondResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
	Step      *int   `json:"step,omitempty"`
	Mode      string `json:"mode"`
	LeadID    string `json:"leadId,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// HealthServices reports the status of each collaborator in GET /health.
type HealthServices struct {
	AIBackend          string `json:"aiBackend"`            // "available", an AI outcome, "unknown" or "unavailable"
	AIProvider         string `json:"aiProvider,omitempty"` // backend name, e.g. "gemini/gemini-2.0-flash"
	FallbackModeActive bool   `json:"fallbackModeActive"`
	Store              string `json:"store"`
	Messaging          string `json:"messaging"`
	Flow               string `json:"flow"`
	Outbox             string `json:"outbox,omitempty"` // notification backlog, when an outbox is in use
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string         `json:"status"`
	Services    HealthServices `json:"services"`
	LastAICheck *time.Time     `json:"lastAiCheck,omitempty"`
}
