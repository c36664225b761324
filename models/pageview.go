package models

import "time"

// PageView counts successful reads of one route on one day.
// Route is the matched pattern (e.g. /api/v1/posts/:slug), not the raw URL.
type PageView struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Date      time.Time `gorm:"index:idx_pv_date_route,unique;type:date;not null" json:"date"`
	Route     string    `gorm:"index:idx_pv_date_route,unique;size:255;not null" json:"route"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
