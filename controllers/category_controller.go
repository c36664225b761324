package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

const categoriesCacheKey = utils.CacheFeedPrefix + "categories"

// CategoryController manages blog categories.
type CategoryController struct {
	db      *gorm.DB
	content *services.ContentService
}

// NewCategoryController creates a CategoryController.
func NewCategoryController(db *gorm.DB) *CategoryController {
	return &CategoryController{db: db, content: services.NewContentService(db)}
}

// List returns every category with its number of published posts.
func (c *CategoryController) List(ctx *gin.Context) {
	if b, ok := utils.CacheGetBytes(categoriesCacheKey); ok {
		ctx.Data(http.StatusOK, "application/json", b)
		return
	}
	cats, err := c.content.ListCategories(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err, "list categories")
		return
	}
	payload := gin.H{"items": cats}
	utils.CacheSetJSON(categoriesCacheKey, cachedEnvelope(payload), utils.CacheTTL())
	utils.Success(ctx, payload)
}

// Get returns a single category by slug.
func (c *CategoryController) Get(ctx *gin.Context) {
	cat, err := c.content.GetCategory(ctx.Request.Context(), ctx.Param("slug"))
	if err != nil {
		respondError(ctx, err, "get category")
		return
	}
	utils.Success(ctx, cat)
}

// Create adds a category. Staff only.
func (c *CategoryController) Create(ctx *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required,max=100"`
		Slug        string `json:"slug" binding:"max=100"`
		Description string `json:"description"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40040, "invalid request payload")
		return
	}
	if !c.requireStaff(ctx) {
		return
	}

	cat, err := c.content.CreateCategory(ctx.Request.Context(), services.CategoryInput{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
	})
	if err != nil {
		respondError(ctx, err, "create category")
		return
	}
	invalidateContent()
	utils.Created(ctx, cat)
}

// Delete removes a category; its posts become uncategorized. Staff only.
func (c *CategoryController) Delete(ctx *gin.Context) {
	if !c.requireStaff(ctx) {
		return
	}
	if err := c.content.DeleteCategory(ctx.Request.Context(), ctx.Param("slug")); err != nil {
		respondError(ctx, err, "delete category")
		return
	}
	invalidateContent()
	utils.Success(ctx, gin.H{"message": "category deleted"})
}

func (c *CategoryController) requireStaff(ctx *gin.Context) bool {
	user, ok := requireUser(ctx, c.db)
	if !ok {
		return false
	}
	if !user.CanModerate() {
		utils.Error(ctx, http.StatusForbidden, 40302, "staff only")
		return false
	}
	return true
}
