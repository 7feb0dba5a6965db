package models

import "time"

// UnreadCount tracks how many messages a member has not seen yet.
type UnreadCount struct {
	UserID string `json:"userId"`
	Count  int    `json:"count"`
}

// Conversation holds the metadata of a direct or bot chat.
type Conversation struct {
	ID            string        `json:"_id"`
	Members       []string      `json:"members"`
	LatestMessage string        `json:"latestmessage"`
	UnreadCounts  []UnreadCount `json:"unreadCounts"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// HasMember checks whether userID belongs to the conversation.
func (c Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// OtherMembers returns every member except userID, in stored order.
func (c Conversation) OtherMembers(userID string) []string {
	others := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		if m != userID {
			others = append(others, m)
		}
	}
	return others
}

// UnreadFor returns the unread counter of userID, zero when absent.
func (c Conversation) UnreadFor(userID string) int {
	for _, u := range c.UnreadCounts {
		if u.UserID == userID {
			return u.Count
		}
	}
	return 0
}
