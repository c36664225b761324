package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/aiblog/config"
	"github.com/cppla/aiblog/middleware"
	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/utils"
)

// AuthController handles registration, login and the caller's own profile.
type AuthController struct {
	db *gorm.DB
}

// NewAuthController creates an AuthController.
func NewAuthController(db *gorm.DB) *AuthController {
	return &AuthController{db: db}
}

// Register handles local account registration with bcrypt hashing.
func (a *AuthController) Register(ctx *gin.Context) {
	var req struct {
		Username  string `json:"username" binding:"required,min=3,max=64"`
		Email     string `json:"email" binding:"required,email"`
		Password  string `json:"password" binding:"required"`
		Confirm   string `json:"confirm"`
		FirstName string `json:"first_name" binding:"max=150"`
		LastName  string `json:"last_name" binding:"max=150"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}

	username := strings.TrimSpace(req.Username)
	if !validUsername(username) {
		utils.Error(ctx, http.StatusBadRequest, 40002, "username may only contain letters, digits, '-', '_' and '.'")
		return
	}
	if req.Confirm != "" && req.Confirm != req.Password {
		utils.Error(ctx, http.StatusBadRequest, 40002, "passwords do not match")
		return
	}
	email := utils.NormalizeEmail(req.Email)

	var count int64
	if err := a.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		respondError(ctx, err, "register")
		return
	}
	if count > 0 {
		utils.Error(ctx, http.StatusConflict, 40901, "username already exists")
		return
	}
	if err := a.db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		respondError(ctx, err, "register")
		return
	}
	if count > 0 {
		utils.Error(ctx, http.StatusConflict, 40902, "email already registered")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if errors.Is(err, utils.ErrWeakPassword) {
		utils.Error(ctx, http.StatusBadRequest, 40003, err.Error())
		return
	}
	if err != nil {
		respondError(ctx, err, "register")
		return
	}

	user := models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		IsActive:     true,
		IsStaff:      config.Get().IsAdminUsername(username),
	}
	if err := a.db.Create(&user).Error; err != nil {
		respondError(ctx, err, "register")
		return
	}

	token, expires, err := utils.IssueToken(user.ID, user.Username)
	if err != nil {
		respondError(ctx, err, "issue token")
		return
	}
	utils.Created(ctx, gin.H{"token": token, "expires_at": expires, "user": privateUser(user)})
}

// Login verifies user credentials and issues a JWT.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40004, "invalid request payload")
		return
	}

	var user models.User
	if err := a.db.Where("username = ?", strings.TrimSpace(req.Username)).First(&user).Error; err != nil {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}
	if !user.IsActive || !utils.CheckPassword(user.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}

	token, expires, err := utils.IssueToken(user.ID, user.Username)
	if err != nil {
		respondError(ctx, err, "issue token")
		return
	}
	utils.Success(ctx, gin.H{"token": token, "expires_at": expires, "user": privateUser(user)})
}

// Logout invalidates the token by blacklisting it until expiration.
func (a *AuthController) Logout(ctx *gin.Context) {
	token := ctx.GetString(middleware.ContextTokenKey)
	expiresAt := time.Now().Add(72 * time.Hour)
	if v, ok := ctx.Get(middleware.ContextTokenExpiryKey); ok {
		if t, ok := v.(time.Time); ok {
			expiresAt = t
		}
	}
	if err := utils.BlacklistToken(ctx.Request.Context(), token, expiresAt); err != nil {
		respondError(ctx, err, "logout")
		return
	}
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the current authenticated user's information.
func (a *AuthController) Me(ctx *gin.Context) {
	user, ok := requireUser(ctx, a.db)
	if !ok {
		return
	}
	utils.Success(ctx, privateUser(*user))
}

// UpdateProfile allows the authenticated user to update profile fields.
// Absent fields are left unchanged; empty strings clear them.
func (a *AuthController) UpdateProfile(ctx *gin.Context) {
	user, ok := requireUser(ctx, a.db)
	if !ok {
		return
	}

	var req struct {
		Email     *string `json:"email" binding:"omitempty,email"`
		FirstName *string `json:"first_name" binding:"omitempty,max=150"`
		LastName  *string `json:"last_name" binding:"omitempty,max=150"`
		Bio       *string `json:"bio" binding:"omitempty,max=500"`
		Website   *string `json:"website" binding:"omitempty,url,max=255"`
		Location  *string `json:"location" binding:"omitempty,max=100"`
		AvatarURL *string `json:"avatar_url" binding:"omitempty,url,max=512"`
		BirthDate *string `json:"birth_date" binding:"omitempty,datetime=2006-01-02"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40030, "invalid request payload")
		return
	}

	updates := map[string]interface{}{}
	setText := func(column string, v *string) {
		if v != nil {
			updates[column] = utils.StripTags(*v)
		}
	}
	setText("first_name", req.FirstName)
	setText("last_name", req.LastName)
	setText("bio", req.Bio)
	setText("location", req.Location)
	if req.Website != nil {
		updates["website"] = strings.TrimSpace(*req.Website)
	}
	if req.AvatarURL != nil {
		updates["avatar_url"] = strings.TrimSpace(*req.AvatarURL)
	}
	if req.BirthDate != nil {
		if *req.BirthDate == "" {
			updates["birth_date"] = nil
		} else {
			d, _ := time.Parse("2006-01-02", *req.BirthDate)
			updates["birth_date"] = d
		}
	}
	if req.Email != nil {
		email := utils.NormalizeEmail(*req.Email)
		var count int64
		if err := a.db.Model(&models.User{}).Where("email = ? AND id <> ?", email, user.ID).Count(&count).Error; err != nil {
			respondError(ctx, err, "update profile")
			return
		}
		if count > 0 {
			utils.Error(ctx, http.StatusConflict, 40902, "email already registered")
			return
		}
		updates["email"] = email
	}

	if len(updates) > 0 {
		if err := a.db.Model(user).Updates(updates).Error; err != nil {
			respondError(ctx, err, "update profile")
			return
		}
	}
	if err := a.db.First(user, user.ID).Error; err != nil {
		respondError(ctx, err, "update profile")
		return
	}
	utils.InvalidateByPrefix(profileCacheKey(user.Username))
	utils.Success(ctx, privateUser(*user))
}

func validUsername(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			continue
		}
		return false
	}
	return true
}

// publicUser is what anybody may see about a member.
func publicUser(user models.User) gin.H {
	return gin.H{
		"id":           user.ID,
		"username":     user.Username,
		"display_name": user.DisplayName(),
		"first_name":   user.FirstName,
		"last_name":    user.LastName,
		"bio":          user.Bio,
		"website":      user.Website,
		"location":     user.Location,
		"avatar_url":   user.AvatarURL,
		"date_joined":  user.CreatedAt,
	}
}

// privateUser adds the fields only the member themselves should see.
func privateUser(user models.User) gin.H {
	m := publicUser(user)
	m["email"] = user.Email
	m["birth_date"] = user.BirthDate
	m["is_staff"] = user.CanModerate() || config.Get().IsAdminUsername(user.Username)
	return m
}
