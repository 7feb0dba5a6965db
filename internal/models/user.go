package models

import "strings"

// User is the subset of an account this service reads.
type User struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
	IsBot bool   `json:"isBot"`
}

// IsBotAccount reports whether the account is an automated responder.
// Accounts predating the isBot flag are recognised by "bot" in their email.
func (u User) IsBotAccount() bool {
	return u.IsBot || strings.Contains(u.Email, "bot")
}
