package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/aiblog/config"
	"github.com/cppla/aiblog/middleware"
	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

func parsePagination(pageStr, sizeStr string, defaultSize int) (int, int) {
	page := 1
	pageSize := defaultSize
	if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
		page = p
	}
	if s, err := strconv.Atoi(sizeStr); err == nil && s > 0 && s <= 100 {
		pageSize = s
	}
	return page, pageSize
}

func getUserID(ctx *gin.Context) (uint, bool) {
	value, exists := ctx.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		return uint(v), true
	case int64:
		return uint(v), true
	case float64:
		return uint(v), true
	default:
		return 0, false
	}
}

// currentUser loads the authenticated user, or returns nil for guests.
// Usernames listed in ADMIN_USERNAMES act as staff.
func currentUser(ctx *gin.Context, db *gorm.DB) *models.User {
	userID, ok := getUserID(ctx)
	if !ok {
		return nil
	}
	var user models.User
	if err := db.WithContext(ctx.Request.Context()).First(&user, userID).Error; err != nil {
		return nil
	}
	if !user.IsActive {
		return nil
	}
	if config.Get().IsAdminUsername(user.Username) {
		user.IsStaff = true
	}
	return &user
}

// requireUser is currentUser for routes behind AuthRequired; it answers 401 itself.
func requireUser(ctx *gin.Context, db *gorm.DB) (*models.User, bool) {
	user := currentUser(ctx, db)
	if user == nil {
		utils.Error(ctx, http.StatusUnauthorized, 40108, "unauthorized")
		return nil, false
	}
	return user, true
}

// currentPrincipal resolves the acting party: the member, or the guest session.
func currentPrincipal(ctx *gin.Context, db *gorm.DB) services.Principal {
	if user := currentUser(ctx, db); user != nil {
		return services.Member(user)
	}
	sid := middleware.SessionID(ctx)
	if sid == "" {
		return services.Principal{}
	}
	ttl := time.Duration(config.Get().SessionTTLHours) * time.Hour
	return services.Guest(utils.OpenSession(sid, ttl))
}

func parseIDParam(ctx *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil || id == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40010, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// respondError maps engine error kinds onto HTTP statuses. Unknown errors are
// logged and hidden behind a generic 500.
func respondError(ctx *gin.Context, err error, op string) {
	var svcErr *services.Error
	switch {
	case errors.Is(err, services.ErrPermission):
		utils.Error(ctx, http.StatusForbidden, 40300, err.Error())
	case errors.Is(err, services.ErrValidation):
		utils.Error(ctx, http.StatusBadRequest, 40000, err.Error())
	case errors.Is(err, services.ErrNotFound):
		utils.Error(ctx, http.StatusNotFound, 40400, err.Error())
	case errors.Is(err, services.ErrInvalidOperation):
		utils.Error(ctx, http.StatusConflict, 40900, err.Error())
	case errors.As(err, &svcErr):
		utils.Error(ctx, http.StatusBadRequest, 40000, svcErr.Message)
	default:
		utils.Logger.Error("request failed",
			zap.String("op", op),
			zap.String("path", ctx.FullPath()),
			zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, 50000, "internal server error")
	}
}

// invalidateContent drops every cached listing after a content change.
func invalidateContent() {
	utils.InvalidateByPrefix(utils.CacheFeedPrefix)
	utils.InvalidateByPrefix(utils.CacheStatsPrefix)
}

func cachedEnvelope(data interface{}) utils.JSONResponse {
	return utils.JSONResponse{Code: 0, Message: "success", Data: data}
}
