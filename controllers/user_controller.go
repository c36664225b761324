package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

// UserController serves member profiles and the follow graph.
type UserController struct {
	db            *gorm.DB
	relationships *services.RelationshipService
	content       *services.ContentService
}

// NewUserController creates a UserController.
func NewUserController(db *gorm.DB) *UserController {
	return &UserController{
		db:            db,
		relationships: services.NewRelationshipService(db),
		content:       services.NewContentService(db),
	}
}

func profileCacheKey(username string) string {
	return utils.CacheStatsPrefix + "profile:" + strings.ToLower(username) + ":"
}

type profilePayload struct {
	User    gin.H                 `json:"user"`
	Follows services.FollowCounts `json:"follows"`
	Stats   services.AuthorStats  `json:"stats"`
}

// Profile returns a member's public profile, follow counts and author figures.
// is_following is filled in for authenticated viewers.
func (u *UserController) Profile(ctx *gin.Context) {
	username := strings.TrimSpace(ctx.Param("username"))

	var payload profilePayload
	if !utils.CacheGetJSON(profileCacheKey(username), &payload) {
		var user models.User
		if err := u.db.Where("username = ?", username).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				utils.Error(ctx, http.StatusNotFound, 40410, "user not found")
				return
			}
			respondError(ctx, err, "load profile")
			return
		}
		reqCtx := ctx.Request.Context()
		follows, err := u.relationships.FollowCounts(reqCtx, user.ID)
		if err != nil {
			respondError(ctx, err, "follow counts")
			return
		}
		stats, err := u.content.AuthorStats(reqCtx, user.ID)
		if err != nil {
			respondError(ctx, err, "author stats")
			return
		}
		payload = profilePayload{User: publicUser(user), Follows: follows, Stats: stats}
		utils.CacheSetJSON(profileCacheKey(username), payload, utils.CacheTTL())
	}

	resp := gin.H{"user": payload.User, "follows": payload.Follows, "stats": payload.Stats}
	if viewer := currentUser(ctx, u.db); viewer != nil {
		targetID := profileUserID(payload.User)
		following, err := u.relationships.IsFollowing(ctx.Request.Context(), viewer.ID, targetID)
		if err != nil {
			respondError(ctx, err, "is following")
			return
		}
		resp["is_following"] = following
		resp["is_self"] = viewer.ID == targetID
	}
	utils.Success(ctx, resp)
}

// profileUserID reads the id back out of a (possibly JSON round-tripped) profile.
func profileUserID(user gin.H) uint {
	switch v := user["id"].(type) {
	case uint:
		return v
	case float64:
		return uint(v)
	}
	return 0
}

// Followers lists who follows :username.
func (u *UserController) Followers(ctx *gin.Context) {
	page, size := parsePagination(ctx.Query("page"), ctx.Query("page_size"), services.FollowersPageSize)
	res, err := u.relationships.ListFollowers(ctx.Request.Context(), ctx.Param("username"), page, size)
	if err != nil {
		respondError(ctx, err, "list followers")
		return
	}
	utils.Success(ctx, followPage(res))
}

// Following lists whom :username follows.
func (u *UserController) Following(ctx *gin.Context) {
	page, size := parsePagination(ctx.Query("page"), ctx.Query("page_size"), services.FollowersPageSize)
	res, err := u.relationships.ListFollowing(ctx.Request.Context(), ctx.Param("username"), page, size)
	if err != nil {
		respondError(ctx, err, "list following")
		return
	}
	utils.Success(ctx, followPage(res))
}

func followPage(p services.Page[services.FollowEntry]) gin.H {
	items := make([]gin.H, 0, len(p.Items))
	for _, e := range p.Items {
		items = append(items, gin.H{"user": publicUser(e.User), "followed_at": e.FollowedAt})
	}
	return gin.H{
		"items": items,
		"pagination": gin.H{
			"page":        p.Page,
			"page_size":   p.PageSize,
			"total":       p.Total,
			"total_pages": p.TotalPages,
		},
	}
}

// Follow toggles the caller's follow of user_id.
func (u *UserController) Follow(ctx *gin.Context) {
	var req struct {
		UserID uint `json:"user_id" form:"user_id" binding:"required"`
	}
	if err := ctx.ShouldBind(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40060, "user_id is required")
		return
	}
	actor, ok := requireUser(ctx, u.db)
	if !ok {
		return
	}

	res, err := u.relationships.FollowUser(ctx.Request.Context(), actor, req.UserID)
	if err != nil {
		respondError(ctx, err, "follow user")
		return
	}
	var target models.User
	if err := u.db.Select("username").First(&target, req.UserID).Error; err == nil {
		utils.InvalidateByPrefix(profileCacheKey(target.Username))
	}
	utils.InvalidateByPrefix(profileCacheKey(actor.Username))
	utils.Success(ctx, res)
}
