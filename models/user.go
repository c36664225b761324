package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a blog member. Passwords are stored as bcrypt hashes only.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"size:64;not null;uniqueIndex" json:"username"`
	Email        string         `gorm:"size:255;not null;uniqueIndex" json:"-"`
	PasswordHash string         `gorm:"size:255" json:"-"`
	FirstName    string         `gorm:"size:150" json:"first_name"`
	LastName     string         `gorm:"size:150" json:"last_name"`
	Bio          string         `gorm:"size:500" json:"bio"`
	Website      string         `gorm:"size:255" json:"website"`
	Location     string         `gorm:"size:100" json:"location"`
	BirthDate    *time.Time     `json:"-"`
	AvatarURL    string         `gorm:"size:512" json:"avatar_url"`
	IsStaff      bool           `gorm:"default:false" json:"is_staff"`
	IsSuperuser  bool           `gorm:"default:false" json:"is_superuser"`
	IsActive     bool           `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time      `json:"date_joined"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate hook ensures timestamps are set even when not provided.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := tx.NowFunc()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return nil
}

// CanModerate reports whether the user may manage other members' content.
func (u *User) CanModerate() bool {
	return u != nil && (u.IsStaff || u.IsSuperuser)
}

// DisplayName prefers the full name and falls back to the username.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}
