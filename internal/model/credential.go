package model

import "time"

// OwnerCredential is the single administrative principal, persisted as a JSON
// file next to the binary. Created on first run, never deleted.
type OwnerCredential struct {
	Username              string     `json:"username"`
	PasswordHash          string     `json:"password_hash"`
	CreatedAt             time.Time  `json:"created_at"`
	LastLogin             *time.Time `json:"last_login"`
	LastPasswordChange    time.Time  `json:"last_password_change"`
	RequirePasswordChange bool       `json:"require_password_change"`
}
