package entity

import "time"

// Account links a player identity to credentials. A player may only hold one
// active session at a time; the session flag itself lives in the shared
// cache, not on the account record.
type Account struct {
	PlayerName   string    `json:"playerName"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}
