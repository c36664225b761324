package models

import "time"

// Newsletter is an email subscription to the blog newsletter.
type Newsletter struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	IsActive     bool      `gorm:"not null" json:"is_active"`
	SubscribedAt time.Time `gorm:"autoCreateTime" json:"subscribed_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// All returns every model managed by the blog, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{}, &Follow{}, &Category{}, &Post{}, &Comment{}, &Like{}, &Newsletter{}, &PageView{},
	}
}
