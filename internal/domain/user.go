package domain

import (
	"time"

	"github.com/google/uuid"
)

// UnknownSenderName is shown when a message's sender can no longer be resolved.
const UnknownSenderName = "Unknown user"

type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	AvatarURL    *string    `json:"avatar_url,omitempty"`
	Profession   *string    `json:"profession,omitempty"`
	Hobby        *string    `json:"hobby,omitempty"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// UserSummary is the public slice of a user shown next to conversations.
type UserSummary struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	AvatarURL  *string    `json:"avatar_url,omitempty"`
	Profession *string    `json:"profession,omitempty"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:         u.ID,
		Name:       u.Name,
		AvatarURL:  u.AvatarURL,
		Profession: u.Profession,
		LastSeenAt: u.LastSeenAt,
	}
}
