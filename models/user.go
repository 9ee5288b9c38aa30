package models

import "time"

// User is owned by the profile subsystem; chat only reads it.
type User struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Username    string    `gorm:"type:varchar(64);uniqueIndex" json:"username"`
	DisplayName string    `gorm:"type:varchar(128)" json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Profile is the display identity attached to conversation list entries.
type Profile struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
}
