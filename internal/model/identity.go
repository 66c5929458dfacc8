package model

import "time"

// Identity statuses.
const (
	IdentityPending   = "pending"
	IdentityConfirmed = "confirmed"
)

// An Identity is an end user of the pool.
type Identity struct {
	Base `json:",inline" storm:"inline"`

	Username         string    `json:"username"          storm:"unique"`
	Email            string    `json:"email"             storm:"unique"`
	Subject          string    `json:"subject"           storm:"unique"`
	PasswordHash     string    `json:"-"`
	Status           string    `json:"status"            storm:"index"`
	VerificationCode string    `json:"-"`
	CodeExpiresAt    time.Time `json:"code_expires_at"`
}

// Confirmed returns true if the identity has been verified.
func (m *Identity) Confirmed() bool {
	return m.Status == IdentityConfirmed
}
