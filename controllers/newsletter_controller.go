package controllers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

// NewsletterController handles newsletter sign-ups.
type NewsletterController struct {
	newsletter *services.NewsletterService
}

// NewNewsletterController creates a NewsletterController.
func NewNewsletterController(db *gorm.DB) *NewsletterController {
	return &NewsletterController{newsletter: services.NewNewsletterService(db)}
}

// Subscribe activates an email address and sends a welcome mail when it changed.
func (n *NewsletterController) Subscribe(ctx *gin.Context) {
	var req struct {
		Email string `json:"email" form:"email" binding:"required"`
	}
	if err := ctx.ShouldBind(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40070, "email is required")
		return
	}

	res, err := n.newsletter.Subscribe(ctx.Request.Context(), req.Email)
	if err != nil {
		respondError(ctx, err, "subscribe")
		return
	}
	if res.Changed() {
		utils.InvalidateByPrefix(utils.CacheStatsPrefix)
		if utils.MailEnabled() {
			utils.SendMailAsync(res.Subscription.Email, "Welcome to the newsletter",
				fmt.Sprintf("<p>Thanks for subscribing with %s.</p><p>You will hear from us when new posts are published.</p>",
					res.Subscription.Email))
		}
	}

	status := http.StatusOK
	if res.Outcome == services.OutcomeSubscribed {
		status = http.StatusCreated
	}
	utils.Respond(ctx, status, 0, res.Outcome, res)
}

// Unsubscribe deactivates an email address.
func (n *NewsletterController) Unsubscribe(ctx *gin.Context) {
	var req struct {
		Email string `json:"email" form:"email" binding:"required"`
	}
	if err := ctx.ShouldBind(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40071, "email is required")
		return
	}
	if err := n.newsletter.Unsubscribe(ctx.Request.Context(), req.Email); err != nil {
		respondError(ctx, err, "unsubscribe")
		return
	}
	utils.InvalidateByPrefix(utils.CacheStatsPrefix)
	utils.Success(ctx, gin.H{"message": "unsubscribed"})
}
