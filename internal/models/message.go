package models

import "time"

// SeenMarker records when a user viewed a message.
type SeenMarker struct {
	User   string    `json:"user"`
	SeenAt time.Time `json:"seenAt"`
}

// Message represents a chat message.
type Message struct {
	ID             string       `json:"_id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	Text           string       `json:"text"`
	ImageURL       string       `json:"imageUrl,omitempty"`
	SeenBy         []SeenMarker `json:"seenBy"`
	DeletedFrom    []string     `json:"deletedFrom"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// SeenByUser reports whether userID already has a seen marker.
func (m Message) SeenByUser(userID string) bool {
	for _, s := range m.SeenBy {
		if s.User == userID {
			return true
		}
	}
	return false
}

// HiddenFor reports whether the message was soft deleted for userID.
func (m Message) HiddenFor(userID string) bool {
	for _, id := range m.DeletedFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// ConversationEvent is broadcasted through websockets.
type ConversationEvent struct {
	Type       string   `json:"type"`
	Message    *Message `json:"message,omitempty"`
	MessageID  string   `json:"messageId,omitempty"`
	DeleteFrom []string `json:"deleteFrom,omitempty"`
	Error      string   `json:"error,omitempty"`
}
