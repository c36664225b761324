package models

import "time"

// Comment is a reply to a post, written by a member or by a guest.
// Exactly one of Author or the guest identity fields is set.
type Comment struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PostID     uint      `gorm:"index;not null" json:"post_id"`
	AuthorID   *uint     `gorm:"index" json:"author_id"`
	GuestName  string    `gorm:"size:100" json:"guest_name,omitempty"`
	GuestEmail string    `gorm:"size:255" json:"-"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	ParentID   *uint     `gorm:"index" json:"parent_id"`
	IsApproved bool      `gorm:"not null;index" json:"is_approved"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Author     *User     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"author,omitempty"`
}

// IsGuest reports whether the comment was left without an account.
func (c *Comment) IsGuest() bool {
	return c.AuthorID == nil
}

// AuthorName is the name shown next to the comment.
func (c *Comment) AuthorName() string {
	if c.Author != nil {
		return c.Author.DisplayName()
	}
	return c.GuestName
}
