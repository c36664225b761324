package models

import "time"

// Follow is a directed edge: FollowerID follows FolloweeID.
type Follow struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	FollowerID uint      `gorm:"not null;uniqueIndex:idx_follow_pair" json:"follower_id"`
	FolloweeID uint      `gorm:"not null;uniqueIndex:idx_follow_pair;index" json:"followee_id"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
	Follower   User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"follower"`
	Followee   User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"followee"`
}
