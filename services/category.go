package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/cppla/aiblog/models"
)

// CategoryInput carries the fields of a new category.
type CategoryInput struct {
	Name        string
	Slug        string
	Description string
}

// CategoryWithCount is a category and its number of published posts.
type CategoryWithCount struct {
	models.Category
	PostCount int64 `json:"post_count"`
}

// CreateCategory adds a category. Names are unique; the slug is derived from
// the name when not given.
func (s *ContentService) CreateCategory(ctx context.Context, in CategoryInput) (*models.Category, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validationError("category name is required")
	}

	var cat models.Category
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Category{}).Where("name = ?", name).Count(&n).Error; err != nil {
			return fmt.Errorf("check category name: %w", err)
		}
		if n > 0 {
			return validationError("category %q already exists", name)
		}

		catSlug := makeSlug(in.Slug, "")
		if catSlug == "" {
			var err error
			if catSlug, err = uniqueSlug(tx, &models.Category{}, makeSlug(name, "category")); err != nil {
				return err
			}
		} else if taken, err := slugTaken(tx, &models.Category{}, catSlug); err != nil {
			return err
		} else if taken {
			return validationError("slug %q is already in use", catSlug)
		}

		cat = models.Category{Name: name, Slug: catSlug, Description: strings.TrimSpace(in.Description)}
		if err := tx.Create(&cat).Error; err != nil {
			return fmt.Errorf("create category: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cat, nil
}

// ListCategories returns every category by name with its published post count.
func (s *ContentService) ListCategories(ctx context.Context) ([]CategoryWithCount, error) {
	var cats []models.Category
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&cats).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	var rows []struct {
		CategoryID uint
		N          int64
	}
	err := s.db.WithContext(ctx).Model(&models.Post{}).
		Select("category_id, COUNT(*) AS n").
		Where("status = ? AND category_id IS NOT NULL", models.StatusPublished).
		Group("category_id").Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count category posts: %w", err)
	}
	counts := make(map[uint]int64, len(rows))
	for _, r := range rows {
		counts[r.CategoryID] = r.N
	}

	out := make([]CategoryWithCount, 0, len(cats))
	for _, c := range cats {
		out = append(out, CategoryWithCount{Category: c, PostCount: counts[c.ID]})
	}
	return out, nil
}

// GetCategory looks a category up by slug.
func (s *ContentService) GetCategory(ctx context.Context, catSlug string) (*models.Category, error) {
	var cat models.Category
	if err := s.db.WithContext(ctx).Where("slug = ?", catSlug).First(&cat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("category %q not found", catSlug)
		}
		return nil, fmt.Errorf("load category: %w", err)
	}
	return &cat, nil
}

// DeleteCategory removes a category and leaves its posts uncategorized.
func (s *ContentService) DeleteCategory(ctx context.Context, catSlug string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cat models.Category
		if err := tx.Where("slug = ?", catSlug).First(&cat).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("category %q not found", catSlug)
			}
			return fmt.Errorf("load category: %w", err)
		}
		if err := tx.Model(&models.Post{}).Where("category_id = ?", cat.ID).
			UpdateColumn("category_id", nil).Error; err != nil {
			return fmt.Errorf("detach posts: %w", err)
		}
		if err := tx.Delete(&cat).Error; err != nil {
			return fmt.Errorf("delete category: %w", err)
		}
		return nil
	})
}
