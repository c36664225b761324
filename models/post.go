package models

import (
	"strings"
	"time"
)

// PostStatus is the publication state of a post.
type PostStatus string

const (
	StatusDraft     PostStatus = "draft"
	StatusPublished PostStatus = "published"
	StatusArchived  PostStatus = "archived"
)

// Valid reports whether s is one of the known statuses.
func (s PostStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// Post represents a blog article written by a user.
type Post struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Title         string     `gorm:"size:200;not null" json:"title"`
	Slug          string     `gorm:"size:200;not null;uniqueIndex" json:"slug"`
	AuthorID      uint       `gorm:"index;not null" json:"author_id"`
	CategoryID    *uint      `gorm:"index" json:"category_id"`
	Content       string     `gorm:"type:text;not null" json:"content"`
	Excerpt       string     `gorm:"size:300" json:"excerpt"`
	FeaturedImage string     `gorm:"size:512" json:"featured_image"`
	Tags          string     `gorm:"size:200" json:"tags"` // comma separated
	Status        PostStatus `gorm:"size:10;not null;default:draft;index" json:"status"`
	IsFeatured    bool       `gorm:"default:false;index" json:"is_featured"`
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	PublishedAt   *time.Time `gorm:"index" json:"published_at"`
	Views         uint64     `gorm:"not null;default:0" json:"views"`
	Author        User       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"author"`
	Category      *Category  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"category,omitempty"`
}

// TagList returns the tags as a trimmed list without empty entries.
func (p *Post) TagList() []string {
	if p.Tags == "" {
		return []string{}
	}
	parts := strings.Split(p.Tags, ",")
	tags := make([]string, 0, len(parts))
	for _, t := range parts {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// SetStatus moves the post to status. PublishedAt is stamped with now the first
// time the post becomes published and is never cleared afterwards.
func (p *Post) SetStatus(status PostStatus, now time.Time) {
	p.Status = status
	if status == StatusPublished && p.PublishedAt == nil {
		stamp := now
		p.PublishedAt = &stamp
	}
}

// IsPublished reports whether the post is publicly visible.
func (p *Post) IsPublished() bool {
	return p.Status == StatusPublished
}
