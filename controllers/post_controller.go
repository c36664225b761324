package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/aiblog/config"
	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

// PostController manages posts, their comments and likes.
type PostController struct {
	db            *gorm.DB
	content       *services.ContentService
	comments      *services.CommentService
	relationships *services.RelationshipService
}

// NewPostController creates a new PostController instance.
func NewPostController(db *gorm.DB) *PostController {
	return &PostController{
		db:            db,
		content:       services.NewContentService(db),
		comments:      services.NewCommentService(db, config.Get().CommentsRequireApproval),
		relationships: services.NewRelationshipService(db),
	}
}

// postView is a post as rendered by the API.
type postView struct {
	models.Post
	TagList []string `json:"tag_list"`
}

func viewPost(p models.Post) postView {
	return postView{Post: p, TagList: p.TagList()}
}

func viewPage(p services.Page[models.Post]) gin.H {
	items := make([]postView, 0, len(p.Items))
	for _, post := range p.Items {
		items = append(items, viewPost(post))
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

type postRequest struct {
	Title         string `json:"title" binding:"required,max=200"`
	Slug          string `json:"slug" binding:"max=200"`
	Content       string `json:"content"`
	Excerpt       string `json:"excerpt" binding:"max=300"`
	CategoryID    *uint  `json:"category_id"`
	FeaturedImage string `json:"featured_image" binding:"omitempty,url,max=512"`
	Tags          string `json:"tags" binding:"max=200"`
	Status        string `json:"status" binding:"omitempty,oneof=draft published archived"`
	IsFeatured    bool   `json:"is_featured"`
}

func (r postRequest) input() services.PostInput {
	return services.PostInput{
		Title:         r.Title,
		Slug:          r.Slug,
		Content:       r.Content,
		Excerpt:       r.Excerpt,
		CategoryID:    r.CategoryID,
		FeaturedImage: r.FeaturedImage,
		Tags:          r.Tags,
		Status:        models.PostStatus(r.Status),
		IsFeatured:    r.IsFeatured,
	}
}

// ListPosts is the home feed: published posts, 6 per page by default.
func (p *PostController) ListPosts(ctx *gin.Context) {
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"), services.HomePageSize)
	sortBy := ctx.DefaultQuery("sort", services.SortLatest)
	filter := services.FeedFilter{
		Tag:          strings.TrimSpace(ctx.Query("tag")),
		FeaturedOnly: ctx.Query("featured") == "true" || ctx.Query("featured") == "1",
	}
	if author := strings.TrimSpace(ctx.Query("author")); author != "" {
		var user models.User
		if err := p.db.Select("id").Where("username = ?", author).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				utils.Error(ctx, http.StatusNotFound, 40410, "user not found")
				return
			}
			respondError(ctx, err, "list posts")
			return
		}
		filter.AuthorID = user.ID
	}

	cacheKey := fmt.Sprintf("%shome:sort=%s:tag=%s:featured=%t:author=%d:page=%d:size=%d",
		utils.CacheFeedPrefix, sortBy, filter.Tag, filter.FeaturedOnly, filter.AuthorID, page, pageSize)
	p.serveFeed(ctx, cacheKey, filter, sortBy, page, pageSize)
}

// Search matches published posts on title, content and tags, 9 per page.
func (p *PostController) Search(ctx *gin.Context) {
	q := strings.TrimSpace(ctx.Query("q"))
	if q == "" {
		utils.Error(ctx, http.StatusBadRequest, 40020, "query parameter q is required")
		return
	}
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"), services.SearchPageSize)
	res, err := p.content.ListFeed(ctx.Request.Context(), services.FeedFilter{Query: q}, ctx.Query("sort"), page, pageSize)
	if err != nil {
		respondError(ctx, err, "search posts")
		return
	}
	payload := viewPage(res)
	payload["query"] = q
	utils.Success(ctx, payload)
}

// Featured returns the featured posts shown on the home page.
func (p *PostController) Featured(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "3"))
	if limit < 1 || limit > 20 {
		limit = 3
	}
	posts, err := p.content.FeaturedPosts(ctx.Request.Context(), limit)
	if err != nil {
		respondError(ctx, err, "featured posts")
		return
	}
	items := make([]postView, 0, len(posts))
	for _, post := range posts {
		items = append(items, viewPost(post))
	}
	utils.Success(ctx, gin.H{"items": items})
}

// CategoryPosts lists the published posts of one category, 9 per page.
func (p *PostController) CategoryPosts(ctx *gin.Context) {
	slug := ctx.Param("slug")
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"), services.CategoryPageSize)
	sortBy := ctx.DefaultQuery("sort", services.SortLatest)
	cacheKey := fmt.Sprintf("%scategory:%s:sort=%s:page=%d:size=%d", utils.CacheFeedPrefix, slug, sortBy, page, pageSize)
	p.serveFeed(ctx, cacheKey, services.FeedFilter{CategorySlug: slug}, sortBy, page, pageSize)
}

// ArchiveMonths lists the months that have published posts.
func (p *PostController) ArchiveMonths(ctx *gin.Context) {
	months, err := p.content.ArchiveMonths(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err, "archive months")
		return
	}
	utils.Success(ctx, gin.H{"months": months})
}

// ArchivePosts lists the posts published in :year/:month, 12 per page.
func (p *PostController) ArchivePosts(ctx *gin.Context) {
	year, errY := strconv.Atoi(ctx.Param("year"))
	month, errM := strconv.Atoi(ctx.Param("month"))
	if errY != nil || errM != nil {
		utils.Error(ctx, http.StatusBadRequest, 40021, "invalid archive month")
		return
	}
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"), services.ArchivePageSize)
	cacheKey := fmt.Sprintf("%sarchive:%04d-%02d:page=%d:size=%d", utils.CacheFeedPrefix, year, month, page, pageSize)
	p.serveFeed(ctx, cacheKey, services.FeedFilter{Year: year, Month: month}, services.SortLatest, page, pageSize)
}

// serveFeed answers from the Redis cache when possible, otherwise queries and fills it.
// The views order changes on every read, so it always hits the database.
func (p *PostController) serveFeed(ctx *gin.Context, cacheKey string, filter services.FeedFilter, sortBy string, page, pageSize int) {
	cacheable := sortBy != services.SortViews
	if cacheable {
		if b, ok := utils.CacheGetBytes(cacheKey); ok {
			ctx.Data(http.StatusOK, "application/json", b)
			return
		}
	}
	res, err := p.content.ListFeed(ctx.Request.Context(), filter, sortBy, page, pageSize)
	if err != nil {
		respondError(ctx, err, "list feed")
		return
	}
	payload := viewPage(res)
	if cacheable {
		utils.CacheSetJSON(cacheKey, cachedEnvelope(payload), utils.CacheTTL())
	}
	utils.Success(ctx, payload)
}

// GetPost returns a post with its comment threads and the caller's like state.
// Every view of a published post is counted.
func (p *PostController) GetPost(ctx *gin.Context) {
	reqCtx := ctx.Request.Context()
	principal := currentPrincipal(ctx, p.db)

	post, err := p.content.GetPostBySlug(reqCtx, principal.User, ctx.Param("slug"))
	if err != nil {
		respondError(ctx, err, "get post")
		return
	}
	if post.IsPublished() {
		if post, err = p.content.RecordView(reqCtx, post.ID); err != nil {
			respondError(ctx, err, "record view")
			return
		}
		utils.CacheDelete(siteStatsCacheKey, profileCacheKey(post.Author.Username))
	}

	threads, err := p.comments.ListTopLevel(reqCtx, post.ID)
	if err != nil {
		respondError(ctx, err, "list comments")
		return
	}
	commentCount, err := p.comments.CountForPost(reqCtx, post.ID)
	if err != nil {
		respondError(ctx, err, "count comments")
		return
	}
	like, err := p.relationships.LikeState(reqCtx, principal, post.ID)
	if err != nil {
		respondError(ctx, err, "like state")
		return
	}

	utils.Success(ctx, gin.H{
		"post":          viewPost(*post),
		"comments":      threads,
		"comment_count": commentCount,
		"is_liked":      like.IsLiked,
		"like_count":    like.LikeCount,
		"can_edit":      services.CanEdit(principal.User, post),
	})
}

// CreatePost allows authenticated users to create new posts.
func (p *PostController) CreatePost(ctx *gin.Context) {
	var req postRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40022, "invalid request payload")
		return
	}
	user, ok := requireUser(ctx, p.db)
	if !ok {
		return
	}

	post, err := p.content.CreatePost(ctx.Request.Context(), user, req.input())
	if err != nil {
		respondError(ctx, err, "create post")
		return
	}
	invalidateContent()
	utils.Created(ctx, gin.H{"post": viewPost(*post)})
}

// UpdatePost rewrites a post; only its author or staff may do so.
func (p *PostController) UpdatePost(ctx *gin.Context) {
	var req postRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40023, "invalid request payload")
		return
	}
	user, ok := requireUser(ctx, p.db)
	if !ok {
		return
	}
	existing, ok := p.editablePost(ctx, user)
	if !ok {
		return
	}

	post, err := p.content.UpdatePost(ctx.Request.Context(), user, existing.ID, req.input())
	if err != nil {
		respondError(ctx, err, "update post")
		return
	}
	invalidateContent()
	utils.Success(ctx, gin.H{"post": viewPost(*post)})
}

// TransitionStatus moves a post between draft, published and archived.
func (p *PostController) TransitionStatus(ctx *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40024, "status is required")
		return
	}
	user, ok := requireUser(ctx, p.db)
	if !ok {
		return
	}
	existing, ok := p.editablePost(ctx, user)
	if !ok {
		return
	}

	post, err := p.content.TransitionStatus(ctx.Request.Context(), existing.ID, models.PostStatus(req.Status))
	if err != nil {
		respondError(ctx, err, "transition status")
		return
	}
	invalidateContent()
	utils.Success(ctx, gin.H{"post": viewPost(*post)})
}

// DeletePost removes a post with its comments and likes.
func (p *PostController) DeletePost(ctx *gin.Context) {
	user, ok := requireUser(ctx, p.db)
	if !ok {
		return
	}
	existing, ok := p.editablePost(ctx, user)
	if !ok {
		return
	}
	if err := p.content.DeletePost(ctx.Request.Context(), user, existing.ID); err != nil {
		respondError(ctx, err, "delete post")
		return
	}
	invalidateContent()
	utils.Success(ctx, gin.H{"message": "post deleted"})
}

// editablePost loads :slug and checks the caller may change it.
func (p *PostController) editablePost(ctx *gin.Context, user *models.User) (*models.Post, bool) {
	post, err := p.content.GetPostBySlug(ctx.Request.Context(), user, ctx.Param("slug"))
	if err != nil {
		respondError(ctx, err, "load post")
		return nil, false
	}
	if !services.CanEdit(user, post) {
		utils.Error(ctx, http.StatusForbidden, 40301, "forbidden")
		return nil, false
	}
	return post, true
}

// Like toggles the caller's like on post_id. Guests are tracked in their session only.
func (p *PostController) Like(ctx *gin.Context) {
	var req struct {
		PostID uint `json:"post_id" form:"post_id" binding:"required"`
	}
	if err := ctx.ShouldBind(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40025, "post_id is required")
		return
	}

	res, err := p.relationships.LikeUnlikePost(ctx.Request.Context(), currentPrincipal(ctx, p.db), req.PostID)
	if err != nil {
		respondError(ctx, err, "like post")
		return
	}
	utils.Success(ctx, res)
}

// CreateComment adds a comment or reply to :slug. Guests must give a name and email.
func (p *PostController) CreateComment(ctx *gin.Context) {
	var req struct {
		Content    string `json:"content" binding:"required"`
		GuestName  string `json:"name" binding:"max=100"`
		GuestEmail string `json:"email" binding:"max=255"`
		ParentID   *uint  `json:"parent_id"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40026, "invalid request payload")
		return
	}

	reqCtx := ctx.Request.Context()
	principal := currentPrincipal(ctx, p.db)
	post, err := p.content.GetPostBySlug(reqCtx, principal.User, ctx.Param("slug"))
	if err != nil {
		respondError(ctx, err, "load post")
		return
	}

	comment, err := p.comments.AddComment(reqCtx, post.ID, principal, services.CommentInput{
		Content:    req.Content,
		GuestName:  req.GuestName,
		GuestEmail: req.GuestEmail,
		ParentID:   req.ParentID,
	})
	if err != nil {
		respondError(ctx, err, "add comment")
		return
	}
	utils.InvalidateByPrefix(utils.CacheFeedPrefix)

	message := "comment added"
	if !comment.IsApproved {
		message = "comment awaiting moderation"
	}
	utils.Respond(ctx, http.StatusCreated, 0, message, gin.H{"comment": comment})
}
