package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/aiblog/models"
)

// Page sizes of the public listings.
const (
	HomePageSize     = 6
	CategoryPageSize = 9
	SearchPageSize   = 9
	ArchivePageSize  = 12
)

// Feed sort orders. Anything else falls back to SortLatest.
const (
	SortLatest  = "latest"
	SortOldest  = "oldest"
	SortPopular = "popular"
	SortViews   = "views"
	SortTitle   = "title"
)

// FeedFilter narrows a listing of published posts. Zero values mean "no filter".
type FeedFilter struct {
	CategorySlug string
	Query        string
	Tag          string
	FeaturedOnly bool
	AuthorID     uint
	Year         int
	Month        int
}

// MonthCount is the number of posts published in one calendar month.
type MonthCount struct {
	Year  int   `json:"year"`
	Month int   `json:"month"`
	Count int64 `json:"count"`
}

// Stats are the site-wide figures shown on the home page.
type Stats struct {
	TotalPublished     int64 `json:"total_published"`
	TotalCategories    int64 `json:"total_categories"`
	TotalViews         int64 `json:"total_views"`
	TotalSubscribers   int64 `json:"total_subscribers"`
	ThisMonthPublished int64 `json:"this_month_published"`
}

// AuthorStats are the figures shown on an author's profile.
type AuthorStats struct {
	TotalPosts       int64   `json:"total_posts"`
	TotalCategories  int64   `json:"total_categories"`
	TotalViews       int64   `json:"total_views"`
	AverageViews     float64 `json:"average_views"`
	TotalSubscribers int64   `json:"total_subscribers"`
}

// ListFeed returns one page of published posts matching f, ordered by sortBy.
func (s *ContentService) ListFeed(ctx context.Context, f FeedFilter, sortBy string, page, pageSize int) (Page[models.Post], error) {
	page, pageSize = normalizePage(page, pageSize, HomePageSize)

	q := s.db.WithContext(ctx).Model(&models.Post{}).Where("posts.status = ?", models.StatusPublished)

	if f.CategorySlug != "" {
		var cat models.Category
		if err := s.db.WithContext(ctx).Where("slug = ?", f.CategorySlug).First(&cat).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return Page[models.Post]{}, notFound("category %q not found", f.CategorySlug)
			}
			return Page[models.Post]{}, fmt.Errorf("load category: %w", err)
		}
		q = q.Where("posts.category_id = ?", cat.ID)
	}
	if text := strings.TrimSpace(f.Query); text != "" {
		like := likePattern(text)
		q = q.Where("(LOWER(posts.title) LIKE ? OR LOWER(posts.content) LIKE ? OR LOWER(posts.tags) LIKE ?)", like, like, like)
	}
	if tag := strings.TrimSpace(f.Tag); tag != "" {
		q = q.Where("LOWER(posts.tags) LIKE ?", likePattern(tag))
	}
	if f.FeaturedOnly {
		q = q.Where("posts.is_featured = ?", true)
	}
	if f.AuthorID != 0 {
		q = q.Where("posts.author_id = ?", f.AuthorID)
	}
	if f.Year != 0 || f.Month != 0 {
		if f.Year < 1 || f.Month < 1 || f.Month > 12 {
			return Page[models.Post]{}, validationError("invalid archive month %d-%d", f.Year, f.Month)
		}
		start := time.Date(f.Year, time.Month(f.Month), 1, 0, 0, 0, 0, s.loc)
		q = q.Where("posts.published_at >= ? AND posts.published_at < ?", start.UTC(), start.AddDate(0, 1, 0).UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return Page[models.Post]{}, fmt.Errorf("count posts: %w", err)
	}

	var posts []models.Post
	err := applySort(q, sortBy).Preload("Author").Preload("Category").
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&posts).Error
	if err != nil {
		return Page[models.Post]{}, fmt.Errorf("list posts: %w", err)
	}
	return newPage(posts, page, pageSize, total), nil
}

func applySort(q *gorm.DB, sortBy string) *gorm.DB {
	switch sortBy {
	case SortOldest:
		return q.Order("posts.published_at ASC").Order("posts.id ASC")
	case SortPopular:
		return q.Order("(SELECT COUNT(*) FROM comments WHERE comments.post_id = posts.id AND comments.is_approved = TRUE) DESC").
			Order("posts.published_at DESC").Order("posts.id DESC")
	case SortViews:
		return q.Order("posts.views DESC").Order("posts.published_at DESC").Order("posts.id DESC")
	case SortTitle:
		return q.Order("posts.title ASC").Order("posts.id ASC")
	default:
		return q.Order("posts.published_at DESC").Order("posts.id DESC")
	}
}

func likePattern(text string) string {
	return "%" + strings.ToLower(text) + "%"
}

// FeaturedPosts returns up to limit featured published posts, newest first.
func (s *ContentService) FeaturedPosts(ctx context.Context, limit int) ([]models.Post, error) {
	if limit < 1 {
		limit = 3
	}
	var posts []models.Post
	err := s.db.WithContext(ctx).Preload("Author").Preload("Category").
		Where("status = ? AND is_featured = ?", models.StatusPublished, true).
		Order("published_at DESC").Order("id DESC").Limit(limit).Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("list featured posts: %w", err)
	}
	return posts, nil
}

// ArchiveMonths counts published posts per calendar month, newest month first.
func (s *ContentService) ArchiveMonths(ctx context.Context) ([]MonthCount, error) {
	var stamps []time.Time
	err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("status = ? AND published_at IS NOT NULL", models.StatusPublished).
		Pluck("published_at", &stamps).Error
	if err != nil {
		return nil, fmt.Errorf("load publication dates: %w", err)
	}

	buckets := map[[2]int]int64{}
	for _, ts := range stamps {
		local := ts.In(s.loc)
		buckets[[2]int{local.Year(), int(local.Month())}]++
	}
	months := make([]MonthCount, 0, len(buckets))
	for k, n := range buckets {
		months = append(months, MonthCount{Year: k[0], Month: k[1], Count: n})
	}
	sort.Slice(months, func(i, j int) bool {
		if months[i].Year != months[j].Year {
			return months[i].Year > months[j].Year
		}
		return months[i].Month > months[j].Month
	})
	return months, nil
}

// AggregateStats computes the home page figures.
func (s *ContentService) AggregateStats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)
	published := db.Model(&models.Post{}).Where("status = ?", models.StatusPublished)

	if err := published.Session(&gorm.Session{}).Count(&st.TotalPublished).Error; err != nil {
		return st, fmt.Errorf("count published: %w", err)
	}
	if err := published.Session(&gorm.Session{}).Select("COALESCE(SUM(views), 0)").Scan(&st.TotalViews).Error; err != nil {
		return st, fmt.Errorf("sum views: %w", err)
	}
	if err := db.Model(&models.Category{}).Count(&st.TotalCategories).Error; err != nil {
		return st, fmt.Errorf("count categories: %w", err)
	}
	if err := db.Model(&models.Newsletter{}).Where("is_active = ?", true).Count(&st.TotalSubscribers).Error; err != nil {
		return st, fmt.Errorf("count subscribers: %w", err)
	}

	now := s.now().In(s.loc)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc).UTC()
	if err := published.Session(&gorm.Session{}).Where("published_at >= ?", monthStart).Count(&st.ThisMonthPublished).Error; err != nil {
		return st, fmt.Errorf("count this month: %w", err)
	}
	return st, nil
}

// AuthorStats computes the profile figures of userID.
func (s *ContentService) AuthorStats(ctx context.Context, userID uint) (AuthorStats, error) {
	var st AuthorStats
	db := s.db.WithContext(ctx)
	own := db.Model(&models.Post{}).Where("author_id = ? AND status = ?", userID, models.StatusPublished)

	if err := own.Session(&gorm.Session{}).Count(&st.TotalPosts).Error; err != nil {
		return st, fmt.Errorf("count author posts: %w", err)
	}
	if err := own.Session(&gorm.Session{}).Select("COALESCE(SUM(views), 0)").Scan(&st.TotalViews).Error; err != nil {
		return st, fmt.Errorf("sum author views: %w", err)
	}
	err := db.Model(&models.Post{}).Where("author_id = ? AND category_id IS NOT NULL", userID).
		Distinct("category_id").Count(&st.TotalCategories).Error
	if err != nil {
		return st, fmt.Errorf("count author categories: %w", err)
	}
	if err := db.Model(&models.Newsletter{}).Where("is_active = ?", true).Count(&st.TotalSubscribers).Error; err != nil {
		return st, fmt.Errorf("count subscribers: %w", err)
	}
	if st.TotalPosts > 0 {
		st.AverageViews = float64(st.TotalViews) / float64(st.TotalPosts)
	}
	return st, nil
}
