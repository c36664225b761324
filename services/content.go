package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/utils"
)

const maxSlugLength = 190

// ContentService owns posts, categories and the read models built on them.
type ContentService struct {
	db  *gorm.DB
	now func() time.Time
	loc *time.Location
}

// NewContentService creates a ContentService. Calendar windows (archive months,
// "this month" stats) are evaluated in the server's local time zone.
func NewContentService(db *gorm.DB) *ContentService {
	return &ContentService{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
		loc: time.Local,
	}
}

// PostInput carries the editable fields of a post.
type PostInput struct {
	Title         string
	Slug          string
	Content       string
	Excerpt       string
	CategoryID    *uint
	FeaturedImage string
	Tags          string
	Status        models.PostStatus
	IsFeatured    bool
}

// CanEdit reports whether u may modify or delete post.
func CanEdit(u *models.User, post *models.Post) bool {
	if u == nil || post == nil {
		return false
	}
	return u.ID == post.AuthorID || u.CanModerate()
}

// CreatePost stores a new post written by author.
func (s *ContentService) CreatePost(ctx context.Context, author *models.User, in PostInput) (*models.Post, error) {
	if author == nil || author.ID == 0 {
		return nil, validationError("login required to write posts")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, validationError("title is required")
	}
	status := in.Status
	if status == "" {
		status = models.StatusDraft
	}
	if !status.Valid() {
		return nil, validationError("unknown status %q", status)
	}

	var post *models.Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkCategory(tx, in.CategoryID); err != nil {
			return err
		}

		var postSlug string
		if explicit := strings.TrimSpace(in.Slug); explicit != "" {
			postSlug = makeSlug(explicit, "")
			if postSlug == "" {
				return validationError("slug %q is not usable", explicit)
			}
			taken, err := slugTaken(tx, &models.Post{}, postSlug)
			if err != nil {
				return err
			}
			if taken {
				return validationError("slug %q is already in use", postSlug)
			}
		} else {
			var err error
			if postSlug, err = uniqueSlug(tx, &models.Post{}, makeSlug(title, "post")); err != nil {
				return err
			}
		}

		p := models.Post{
			Title:         title,
			Slug:          postSlug,
			AuthorID:      author.ID,
			CategoryID:    in.CategoryID,
			FeaturedImage: strings.TrimSpace(in.FeaturedImage),
			Tags:          normalizeTags(in.Tags),
			IsFeatured:    in.IsFeatured,
		}
		p.Content, p.Excerpt = prepareBody(in.Content, in.Excerpt)
		p.SetStatus(status, s.now())
		if err := tx.Create(&p).Error; err != nil {
			return fmt.Errorf("create post: %w", err)
		}
		post = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, post.ID)
}

// UpdatePost rewrites the editable fields of a post. The slug stays what it was
// at creation time even when the title changes.
func (s *ContentService) UpdatePost(ctx context.Context, actor *models.User, postID uint, in PostInput) (*models.Post, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, validationError("title is required")
	}
	if in.Status != "" && !in.Status.Valid() {
		return nil, validationError("unknown status %q", in.Status)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := findPost(tx, postID)
		if err != nil {
			return err
		}
		if !CanEdit(actor, post) {
			return permissionDenied("not allowed to edit post %d", postID)
		}
		if err := checkCategory(tx, in.CategoryID); err != nil {
			return err
		}

		post.Title = title
		post.CategoryID = in.CategoryID
		post.FeaturedImage = strings.TrimSpace(in.FeaturedImage)
		post.Tags = normalizeTags(in.Tags)
		post.IsFeatured = in.IsFeatured
		post.Content, post.Excerpt = prepareBody(in.Content, in.Excerpt)
		if in.Status != "" {
			post.SetStatus(in.Status, s.now())
		}
		return tx.Model(post).
			Select("title", "category_id", "featured_image", "tags", "is_featured", "content", "excerpt", "status", "published_at", "updated_at").
			Updates(post).Error
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, postID)
}

// DeletePost removes a post together with its comments and likes.
func (s *ContentService) DeletePost(ctx context.Context, actor *models.User, postID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := findPost(tx, postID)
		if err != nil {
			return err
		}
		if !CanEdit(actor, post) {
			return permissionDenied("not allowed to delete post %d", postID)
		}
		if err := tx.Where("post_id = ?", postID).Delete(&models.Comment{}).Error; err != nil {
			return fmt.Errorf("delete comments: %w", err)
		}
		if err := tx.Where("post_id = ?", postID).Delete(&models.Like{}).Error; err != nil {
			return fmt.Errorf("delete likes: %w", err)
		}
		if err := tx.Delete(&models.Post{}, postID).Error; err != nil {
			return fmt.Errorf("delete post: %w", err)
		}
		return nil
	})
}

// TransitionStatus moves a post to status. Any transition is allowed; the
// publication time is only stamped the first time the post gets published.
func (s *ContentService) TransitionStatus(ctx context.Context, postID uint, status models.PostStatus) (*models.Post, error) {
	if !status.Valid() {
		return nil, validationError("unknown status %q", status)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := findPost(tx, postID)
		if err != nil {
			return err
		}
		post.SetStatus(status, s.now())
		return tx.Model(post).Select("status", "published_at", "updated_at").Updates(post).Error
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, postID)
}

// RecordView increments the view counter in a single UPDATE so concurrent
// readers never lose an increment, then returns the fresh post.
func (s *ContentService) RecordView(ctx context.Context, postID uint) (*models.Post, error) {
	res := s.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", postID).
		UpdateColumn("views", gorm.Expr("views + ?", 1))
	if res.Error != nil {
		return nil, fmt.Errorf("record view: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, notFound("post %d not found", postID)
	}
	return s.reload(ctx, postID)
}

// GetPost returns a post by id. Unpublished posts are only visible to their
// author and to staff.
func (s *ContentService) GetPost(ctx context.Context, viewer *models.User, postID uint) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).Preload("Author").Preload("Category").First(&post, postID).Error
	return visiblePost(&post, err, viewer, fmt.Sprintf("post %d", postID))
}

// GetPostBySlug is GetPost addressed by slug.
func (s *ContentService) GetPostBySlug(ctx context.Context, viewer *models.User, postSlug string) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).Preload("Author").Preload("Category").Where("slug = ?", postSlug).First(&post).Error
	return visiblePost(&post, err, viewer, fmt.Sprintf("post %q", postSlug))
}

func visiblePost(post *models.Post, err error, viewer *models.User, label string) (*models.Post, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("%s not found", label)
		}
		return nil, fmt.Errorf("load %s: %w", label, err)
	}
	if !post.IsPublished() && !CanEdit(viewer, post) {
		return nil, notFound("%s not found", label)
	}
	return post, nil
}

func (s *ContentService) reload(ctx context.Context, postID uint) (*models.Post, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).Preload("Author").Preload("Category").First(&post, postID).Error; err != nil {
		return nil, fmt.Errorf("reload post %d: %w", postID, err)
	}
	return &post, nil
}

func findPost(tx *gorm.DB, postID uint) (*models.Post, error) {
	var post models.Post
	if err := tx.First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("post %d not found", postID)
		}
		return nil, fmt.Errorf("load post %d: %w", postID, err)
	}
	return &post, nil
}

func checkCategory(tx *gorm.DB, categoryID *uint) error {
	if categoryID == nil {
		return nil
	}
	var n int64
	if err := tx.Model(&models.Category{}).Where("id = ?", *categoryID).Count(&n).Error; err != nil {
		return fmt.Errorf("check category: %w", err)
	}
	if n == 0 {
		return validationError("category %d does not exist", *categoryID)
	}
	return nil
}

// prepareBody sanitizes the HTML body and derives the excerpt when none is given.
func prepareBody(content, excerpt string) (string, string) {
	content = utils.Sanitize(content)
	if excerpt = utils.StripTags(excerpt); excerpt == "" {
		excerpt = utils.Excerpt(content)
	}
	return content, excerpt
}

func normalizeTags(raw string) string {
	p := models.Post{Tags: raw}
	return strings.Join(p.TagList(), ", ")
}

func makeSlug(text, fallback string) string {
	s := slug.Make(text)
	if len(s) > maxSlugLength {
		s = strings.TrimRight(s[:maxSlugLength], "-")
	}
	if s == "" {
		return fallback
	}
	return s
}

func slugTaken(tx *gorm.DB, model any, candidate string) (bool, error) {
	var n int64
	if err := tx.Model(model).Where("slug = ?", candidate).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return n > 0, nil
}

// uniqueSlug returns base, or base-2, base-3, ... whichever is free first.
func uniqueSlug(tx *gorm.DB, model any, base string) (string, error) {
	candidate := base
	for i := 2; ; i++ {
		taken, err := slugTaken(tx, model, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}
