package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/utils"
)

// CommentService manages the two-level comment threads of posts.
type CommentService struct {
	db *gorm.DB
	// RequireApproval holds new comments from non-staff for moderation.
	RequireApproval bool
}

// NewCommentService creates a CommentService.
func NewCommentService(db *gorm.DB, requireApproval bool) *CommentService {
	return &CommentService{db: db, RequireApproval: requireApproval}
}

// CommentInput is a new comment. Guest fields are ignored for members.
type CommentInput struct {
	Content    string
	GuestName  string
	GuestEmail string
	ParentID   *uint
}

// CommentThread is a top-level comment with its approved replies.
type CommentThread struct {
	models.Comment
	Replies []models.Comment `json:"replies"`
}

// AddComment attaches a comment to a published post. Replies to a reply are
// re-parented onto the top-level comment so threads stay two levels deep.
func (s *CommentService) AddComment(ctx context.Context, postID uint, p Principal, in CommentInput) (*models.Comment, error) {
	content := strings.TrimSpace(utils.Sanitize(in.Content))
	if content == "" {
		return nil, validationError("comment content is required")
	}

	c := models.Comment{PostID: postID, Content: content, IsApproved: !s.RequireApproval}
	if p.Authenticated() {
		id := p.User.ID
		c.AuthorID = &id
		if p.User.CanModerate() {
			c.IsApproved = true
		}
	} else {
		name := utils.StripTags(in.GuestName)
		email := utils.NormalizeEmail(in.GuestEmail)
		if name == "" || email == "" {
			return nil, validationError("name and email are required for guest comments")
		}
		if !utils.ValidEmail(email) {
			return nil, validationError("invalid email address %q", email)
		}
		c.GuestName, c.GuestEmail = name, email
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := findPost(tx, postID)
		if err != nil {
			return err
		}
		if !post.IsPublished() {
			return invalidOperation("post %d does not accept comments", postID)
		}

		if in.ParentID != nil {
			var parent models.Comment
			if err := tx.First(&parent, *in.ParentID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return notFound("comment %d not found", *in.ParentID)
				}
				return fmt.Errorf("load parent comment: %w", err)
			}
			if parent.PostID != postID {
				return invalidOperation("comment %d belongs to another post", parent.ID)
			}
			top := parent.ID
			if parent.ParentID != nil {
				top = *parent.ParentID
			}
			c.ParentID = &top
		}

		if err := tx.Create(&c).Error; err != nil {
			return fmt.Errorf("create comment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Preload("Author").First(&c, c.ID).Error; err != nil {
		return nil, fmt.Errorf("reload comment: %w", err)
	}
	return &c, nil
}

// ListTopLevel returns the approved threads of a post, oldest first.
func (s *CommentService) ListTopLevel(ctx context.Context, postID uint) ([]CommentThread, error) {
	var all []models.Comment
	err := s.db.WithContext(ctx).Preload("Author").
		Where("post_id = ? AND is_approved = ?", postID, true).
		Order("created_at ASC").Order("id ASC").
		Find(&all).Error
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}

	replies := make(map[uint][]models.Comment)
	threads := make([]CommentThread, 0)
	for _, c := range all {
		if c.ParentID != nil {
			replies[*c.ParentID] = append(replies[*c.ParentID], c)
			continue
		}
		threads = append(threads, CommentThread{Comment: c})
	}
	for i := range threads {
		threads[i].Replies = replies[threads[i].ID]
		if threads[i].Replies == nil {
			threads[i].Replies = []models.Comment{}
		}
	}
	return threads, nil
}

// CountForPost returns the number of approved comments on a post.
func (s *CommentService) CountForPost(ctx context.Context, postID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Comment{}).
		Where("post_id = ? AND is_approved = ?", postID, true).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return n, nil
}

// SetApproval approves or hides a comment. Staff only.
func (s *CommentService) SetApproval(ctx context.Context, actor *models.User, commentID uint, approved bool) (*models.Comment, error) {
	if !actor.CanModerate() {
		return nil, permissionDenied("only staff can moderate comments")
	}
	c, err := s.find(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(c).UpdateColumn("is_approved", approved).Error; err != nil {
		return nil, fmt.Errorf("update comment: %w", err)
	}
	c.IsApproved = approved
	return c, nil
}

// DeleteComment removes a comment and its replies. Members may delete their own
// comments; staff may delete any.
func (s *CommentService) DeleteComment(ctx context.Context, actor *models.User, commentID uint) error {
	c, err := s.find(ctx, commentID)
	if err != nil {
		return err
	}
	own := actor != nil && c.AuthorID != nil && *c.AuthorID == actor.ID
	if !own && !actor.CanModerate() {
		return permissionDenied("not allowed to delete comment %d", commentID)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("parent_id = ?", c.ID).Delete(&models.Comment{}).Error; err != nil {
			return fmt.Errorf("delete replies: %w", err)
		}
		if err := tx.Delete(&models.Comment{}, c.ID).Error; err != nil {
			return fmt.Errorf("delete comment: %w", err)
		}
		return nil
	})
}

func (s *CommentService) find(ctx context.Context, commentID uint) (*models.Comment, error) {
	var c models.Comment
	if err := s.db.WithContext(ctx).First(&c, commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("comment %d not found", commentID)
		}
		return nil, fmt.Errorf("load comment %d: %w", commentID, err)
	}
	return &c, nil
}
