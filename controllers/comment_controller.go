package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/aiblog/config"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

// CommentController moderates and deletes comments.
type CommentController struct {
	db       *gorm.DB
	comments *services.CommentService
}

// NewCommentController creates a CommentController.
func NewCommentController(db *gorm.DB) *CommentController {
	return &CommentController{
		db:       db,
		comments: services.NewCommentService(db, config.Get().CommentsRequireApproval),
	}
}

// SetApproval approves or hides a comment. Staff only.
func (c *CommentController) SetApproval(ctx *gin.Context) {
	id, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}
	var req struct {
		Approved *bool `json:"approved" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40050, "approved is required")
		return
	}
	user, ok := requireUser(ctx, c.db)
	if !ok {
		return
	}

	comment, err := c.comments.SetApproval(ctx.Request.Context(), user, id, *req.Approved)
	if err != nil {
		respondError(ctx, err, "set approval")
		return
	}
	utils.InvalidateByPrefix(utils.CacheFeedPrefix)
	utils.Success(ctx, gin.H{"comment": comment})
}

// Delete removes a comment and its replies. Authors may delete their own.
func (c *CommentController) Delete(ctx *gin.Context) {
	id, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}
	user, ok := requireUser(ctx, c.db)
	if !ok {
		return
	}
	if err := c.comments.DeleteComment(ctx.Request.Context(), user, id); err != nil {
		respondError(ctx, err, "delete comment")
		return
	}
	utils.InvalidateByPrefix(utils.CacheFeedPrefix)
	utils.Success(ctx, gin.H{"message": "comment deleted"})
}
