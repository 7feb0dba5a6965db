package service

import (
	"message-service/internal/inference"
	"message-service/internal/models"
)

// RoleFor attributes a stored message to the requesting user or to the assistant.
func RoleFor(msg models.Message, senderID string) inference.Role {
	if msg.SenderID == senderID {
		return inference.RoleUser
	}
	return inference.RoleAssistant
}

// BuildHistory turns newest-first messages into chronological turns.
// Image-only messages contribute their URL; messages without content are skipped.
func BuildHistory(recent []models.Message, senderID string) []inference.Turn {
	turns := make([]inference.Turn, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		msg := recent[i]
		content := msg.Text
		if content == "" {
			content = msg.ImageURL
		}
		if content == "" {
			continue
		}
		turns = append(turns, inference.Turn{Role: RoleFor(msg, senderID), Content: content})
	}
	return turns
}
