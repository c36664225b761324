package controllers

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

const siteStatsCacheKey = utils.CacheStatsPrefix + "site"

// StatsController provides blog statistics such as counts and daily traffic.
type StatsController struct {
	db            *gorm.DB
	content       *services.ContentService
	comments      *services.CommentService
	relationships *services.RelationshipService
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(db *gorm.DB) *StatsController {
	return &StatsController{
		db:            db,
		content:       services.NewContentService(db),
		comments:      services.NewCommentService(db, false),
		relationships: services.NewRelationshipService(db),
	}
}

// GetStats returns the site-wide figures plus today's page views.
func (s *StatsController) GetStats(ctx *gin.Context) {
	var stats services.Stats
	if !utils.CacheGetJSON(siteStatsCacheKey, &stats) {
		var err error
		stats, err = s.content.AggregateStats(ctx.Request.Context())
		if err != nil {
			respondError(ctx, err, "aggregate stats")
			return
		}
		utils.CacheSetJSON(siteStatsCacheKey, stats, utils.CacheTTL())
	}

	// Page views move on every request, so they bypass the cache.
	// A failed sum reports 0 rather than failing the whole endpoint.
	var todayViews int64
	now := time.Now().In(time.Local)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := s.db.WithContext(ctx.Request.Context()).Model(&models.PageView{}).
		Where("date = ?", today).
		Select("COALESCE(SUM(count),0)").
		Scan(&todayViews).Error; err != nil {
		utils.Logger.Warn("sum page views", zap.Error(err))
		todayViews = 0
	}

	utils.Success(ctx, gin.H{
		"total_published":      stats.TotalPublished,
		"total_categories":     stats.TotalCategories,
		"total_views":          stats.TotalViews,
		"total_subscribers":    stats.TotalSubscribers,
		"this_month_published": stats.ThisMonthPublished,
		"today_page_views":     todayViews,
	})
}

// GetPostStats returns views, likes and approved comments of a published post.
func (s *StatsController) GetPostStats(ctx *gin.Context) {
	reqCtx := ctx.Request.Context()
	post, err := s.content.GetPostBySlug(reqCtx, nil, ctx.Param("slug"))
	if err != nil {
		respondError(ctx, err, "post stats")
		return
	}
	id := post.ID
	comments, err := s.comments.CountForPost(reqCtx, id)
	if err != nil {
		respondError(ctx, err, "post stats")
		return
	}
	likes, err := s.relationships.LikeState(reqCtx, services.Principal{}, id)
	if err != nil {
		respondError(ctx, err, "post stats")
		return
	}
	utils.Success(ctx, gin.H{
		"views":          post.Views,
		"like_count":     likes.LikeCount,
		"comments_count": comments,
	})
}
