package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/aiblog/config"
	"github.com/cppla/aiblog/controllers"
	"github.com/cppla/aiblog/middleware"
	"github.com/cppla/aiblog/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(db *gorm.DB) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Access log goes to its own rolling file; an empty GinPath logs through the app logger.
	accessLog := utils.Logger
	if cfg.GinPath != "" {
		if gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress); err == nil {
			accessLog = gl
		} else {
			utils.Logger.Warn("gin access log disabled", zap.Error(err))
		}
	}
	r.Use(utils.Ginzap(accessLog, time.RFC3339, true))
	r.Use(utils.RecoveryWithZap(accessLog, true))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Cookie"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		// Credentials are not allowed with a literal "*", so echo the caller's origin.
		corsCfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))
	r.Use(middleware.PageViewRecorder(db))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	authController := controllers.NewAuthController(db)
	userController := controllers.NewUserController(db)
	postController := controllers.NewPostController(db)
	categoryController := controllers.NewCategoryController(db)
	commentController := controllers.NewCommentController(db)
	newsletterController := controllers.NewNewsletterController(db)
	statsController := controllers.NewStatsController(db)

	api := r.Group("/api/v1")
	// Every API request carries an optional member identity and a guest session.
	api.Use(middleware.Identify())

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware())
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/logout", middleware.AuthRequired(), authController.Logout)
	authGroup.GET("/me", middleware.AuthRequired(), authController.Me)
	authGroup.PATCH("/profile", middleware.AuthRequired(), authController.UpdateProfile)

	// Public reads
	api.GET("/posts", postController.ListPosts)
	api.GET("/posts/featured", postController.Featured)
	api.GET("/posts/:slug", postController.GetPost)
	api.GET("/search", postController.Search)
	api.GET("/archive", postController.ArchiveMonths)
	api.GET("/archive/:year/:month", postController.ArchivePosts)
	api.GET("/categories", categoryController.List)
	api.GET("/categories/:slug", categoryController.Get)
	api.GET("/categories/:slug/posts", postController.CategoryPosts)
	api.GET("/users/:username", userController.Profile)
	api.GET("/users/:username/followers", userController.Followers)
	api.GET("/users/:username/following", userController.Following)
	api.GET("/stats", statsController.GetStats)
	api.GET("/posts/:slug/stats", statsController.GetPostStats)

	// Writes open to guests
	open := api.Group("")
	open.Use(middleware.RateLimitMiddleware())
	open.POST("/like", postController.Like)
	open.POST("/posts/:slug/comments", postController.CreateComment)
	open.POST("/newsletter/subscribe", newsletterController.Subscribe)
	open.POST("/newsletter/unsubscribe", newsletterController.Unsubscribe)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(), middleware.RateLimitMiddleware())
	protected.POST("/follow", userController.Follow)
	protected.POST("/posts", postController.CreatePost)
	protected.PUT("/posts/:slug", postController.UpdatePost)
	protected.DELETE("/posts/:slug", postController.DeletePost)
	protected.POST("/posts/:slug/status", postController.TransitionStatus)
	protected.POST("/categories", categoryController.Create)
	protected.DELETE("/categories/:slug", categoryController.Delete)
	protected.PATCH("/comments/:id/approval", commentController.SetApproval)
	protected.DELETE("/comments/:id", commentController.Delete)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
