package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cppla/aiblog/config"
	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/utils"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	db     *gorm.DB
	engine *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	config.Override(config.AppConfig{
		JWTSecret:          "router-test-secret",
		DBDriver:           "sqlite",
		GinMode:            "test",
		GinPath:            filepath.Join(t.TempDir(), "gin.log"),
		RateLimitPerMinute: 1000,
		AdminUsernames:     []string{"admin"},
	})
	utils.UseRedis(nil)

	name := strings.ReplaceAll(t.Name(), "/", "_") + "_" + uuid.NewString()
	db, err := config.OpenDatabase("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name), "silent")
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db, models.All()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &testServer{t: t, db: db, engine: SetupRouter(db)}
}

// withRedis points the cache, sessions and token blacklist at an in-process Redis.
func (s *testServer) withRedis() *miniredis.Miniredis {
	s.t.Helper()
	mr := miniredis.RunT(s.t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	utils.UseRedis(rc)
	s.t.Cleanup(func() {
		utils.UseRedis(nil)
		_ = rc.Close()
	})
	return mr
}

type reqOpt func(*http.Request)

func withToken(token string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookies(cookies []*http.Cookie) reqOpt {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}
}

func (s *testServer) do(method, path string, body any, opts ...reqOpt) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, o := range opts {
		o(req)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

type account struct {
	ID    uint
	Token string
}

func (s *testServer) register(username string) account {
	s.t.Helper()
	w, env := s.do(http.MethodPost, "/api/v1/auth/register", gin.H{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct-horse",
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	data := decode[struct {
		Token string `json:"token"`
		User  struct {
			ID uint `json:"id"`
		} `json:"user"`
	}](s.t, env.Data)
	return account{ID: data.User.ID, Token: data.Token}
}

type postPayload struct {
	ID      uint     `json:"id"`
	Slug    string   `json:"slug"`
	Status  string   `json:"status"`
	Excerpt string   `json:"excerpt"`
	TagList []string `json:"tag_list"`
	Views   uint64   `json:"views"`
}

func (s *testServer) publish(author account, title string) postPayload {
	s.t.Helper()
	w, env := s.do(http.MethodPost, "/api/v1/posts", gin.H{
		"title":   title,
		"content": "<p>" + title + "</p><script>alert(1)</script>",
		"tags":    "go, web",
		"status":  "published",
	}, withToken(author.Token))
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[struct {
		Post postPayload `json:"post"`
	}](s.t, env.Data).Post
}

func TestHealthAndUnknownRoute(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)

	w, env = s.do(http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40400, env.Code)
}

func TestRegisterLoginLogout(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")

	w, env := s.do(http.MethodPost, "/api/v1/auth/register", gin.H{
		"username": "alice", "email": "other@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 40901, env.Code)

	w, env = s.do(http.MethodPost, "/api/v1/auth/register", gin.H{
		"username": "shorty", "email": "shorty@example.com", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40003, env.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/auth/login", gin.H{"username": "alice", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/auth/me", nil, withToken(alice.Token))
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/auth/logout", nil, withToken(alice.Token))
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(http.MethodGet, "/api/v1/auth/me", nil, withToken(alice.Token))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40104, env.Code)
}

func TestLogoutKeepsOtherSessions(t *testing.T) {
	s := newTestServer(t)
	s.register("alice")

	login := func() string {
		w, env := s.do(http.MethodPost, "/api/v1/auth/login", gin.H{"username": "alice", "password": "correct-horse"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return decode[struct {
			Token string `json:"token"`
		}](t, env.Data).Token
	}
	laptop := login()
	phone := login()
	require.NotEqual(t, laptop, phone)

	w, _ := s.do(http.MethodPost, "/api/v1/auth/logout", nil, withToken(laptop))
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/auth/me", nil, withToken(laptop))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = s.do(http.MethodGet, "/api/v1/auth/me", nil, withToken(phone))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFollowFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")
	bob := s.register("bob")

	type followResp struct {
		IsFollowing    bool   `json:"is_following"`
		Action         string `json:"action"`
		FollowersCount int64  `json:"followers_count"`
	}

	w, env := s.do(http.MethodPost, "/api/v1/follow", gin.H{"user_id": bob.ID}, withToken(alice.Token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[followResp](t, env.Data)
	assert.True(t, res.IsFollowing)
	assert.Equal(t, "followed", res.Action)
	assert.EqualValues(t, 1, res.FollowersCount)

	w, env = s.do(http.MethodGet, "/api/v1/users/bob", nil, withToken(alice.Token))
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode[struct {
		IsFollowing bool `json:"is_following"`
		Follows     struct {
			Followers int64 `json:"followers"`
		} `json:"follows"`
	}](t, env.Data)
	assert.True(t, profile.IsFollowing)
	assert.EqualValues(t, 1, profile.Follows.Followers)

	w, env = s.do(http.MethodGet, "/api/v1/users/bob/followers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	followers := decode[struct {
		Items []struct {
			User struct {
				Username string `json:"username"`
			} `json:"user"`
		} `json:"items"`
	}](t, env.Data)
	require.Len(t, followers.Items, 1)
	assert.Equal(t, "alice", followers.Items[0].User.Username)

	w, env = s.do(http.MethodPost, "/api/v1/follow", gin.H{"user_id": bob.ID}, withToken(alice.Token))
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[followResp](t, env.Data)
	assert.False(t, res.IsFollowing)
	assert.Equal(t, "unfollowed", res.Action)
	assert.EqualValues(t, 0, res.FollowersCount)

	w, env = s.do(http.MethodPost, "/api/v1/follow", gin.H{"user_id": alice.ID}, withToken(alice.Token))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 40900, env.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/follow", gin.H{"user_id": 9999}, withToken(alice.Token))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/follow", gin.H{"user_id": bob.ID})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGuestLikeUsesSessionCookie(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")
	post := s.publish(alice, "Hello World")

	type likeResp struct {
		IsLiked   bool  `json:"is_liked"`
		LikeCount int64 `json:"like_count"`
	}

	w, env := s.do(http.MethodPost, "/api/v1/like", gin.H{"post_id": post.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[likeResp](t, env.Data)
	assert.True(t, res.IsLiked)
	assert.EqualValues(t, 1, res.LikeCount)

	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, config.Get().SessionCookieName, cookies[0].Name)

	var persisted int64
	require.NoError(t, s.db.Model(&models.Like{}).Count(&persisted).Error)
	assert.Zero(t, persisted)

	w, env = s.do(http.MethodGet, "/api/v1/posts/"+post.Slug, nil, withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[likeResp](t, env.Data)
	assert.True(t, detail.IsLiked)
	assert.EqualValues(t, 1, detail.LikeCount)

	w, env = s.do(http.MethodPost, "/api/v1/like", gin.H{"post_id": post.ID}, withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[likeResp](t, env.Data)
	assert.False(t, res.IsLiked)
	assert.EqualValues(t, 0, res.LikeCount)

	// A member like is persisted and visible to everybody.
	w, env = s.do(http.MethodPost, "/api/v1/like", gin.H{"post_id": post.ID}, withToken(alice.Token))
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[likeResp](t, env.Data)
	assert.True(t, res.IsLiked)
	assert.EqualValues(t, 1, res.LikeCount)

	w, _ = s.do(http.MethodPost, "/api/v1/like", gin.H{"post_id": 4242})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")
	mallory := s.register("mallory")

	post := s.publish(alice, "Hello World")
	assert.Equal(t, "hello-world", post.Slug)
	assert.Equal(t, "published", post.Status)
	assert.Equal(t, []string{"go", "web"}, post.TagList)
	assert.NotContains(t, post.Excerpt, "alert")

	second := s.publish(alice, "Hello World")
	assert.Equal(t, "hello-world-2", second.Slug)

	w, env := s.do(http.MethodGet, "/api/v1/posts/"+post.Slug, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[struct {
		Post postPayload `json:"post"`
	}](t, env.Data)
	assert.EqualValues(t, 1, detail.Post.Views)

	w, _ = s.do(http.MethodPut, "/api/v1/posts/"+post.Slug, gin.H{"title": "Hijacked"}, withToken(mallory.Token))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = s.do(http.MethodPost, "/api/v1/posts/"+post.Slug+"/status", gin.H{"status": "draft"}, withToken(alice.Token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Drafts are hidden from everybody but their author.
	w, env = s.do(http.MethodGet, "/api/v1/posts/"+post.Slug, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40400, env.Code)
	w, _ = s.do(http.MethodGet, "/api/v1/posts/"+post.Slug, nil, withToken(alice.Token))
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(http.MethodGet, "/api/v1/posts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	feed := decode[struct {
		Items      []postPayload `json:"items"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}](t, env.Data)
	assert.EqualValues(t, 1, feed.Pagination.Total)
	require.Len(t, feed.Items, 1)
	assert.Equal(t, "hello-world-2", feed.Items[0].Slug)

	w, _ = s.do(http.MethodDelete, "/api/v1/posts/"+second.Slug, nil, withToken(alice.Token))
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(http.MethodGet, "/api/v1/posts/"+second.Slug, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGuestCommentFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")
	post := s.publish(alice, "Comments Welcome")
	path := "/api/v1/posts/" + post.Slug + "/comments"

	w, env := s.do(http.MethodPost, path, gin.H{"content": "anonymous"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40000, env.Code)

	w, _ = s.do(http.MethodPost, path, gin.H{"content": "hi", "name": "Guest", "email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.do(http.MethodPost, path, gin.H{"content": "Nice post", "name": "Guest", "email": "guest@example.com"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[struct {
		Comment struct {
			ID        uint   `json:"id"`
			GuestName string `json:"guest_name"`
		} `json:"comment"`
	}](t, env.Data)
	assert.Equal(t, "Guest", created.Comment.GuestName)
	assert.NotContains(t, w.Body.String(), "guest@example.com")

	w, _ = s.do(http.MethodPost, path, gin.H{"content": "Thanks!", "parent_id": created.Comment.ID}, withToken(alice.Token))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, env = s.do(http.MethodGet, "/api/v1/posts/"+post.Slug, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[struct {
		CommentCount int64 `json:"comment_count"`
		Comments     []struct {
			Content string `json:"content"`
			Replies []struct {
				Content string `json:"content"`
			} `json:"replies"`
		} `json:"comments"`
	}](t, env.Data)
	assert.EqualValues(t, 2, detail.CommentCount)
	require.Len(t, detail.Comments, 1)
	require.Len(t, detail.Comments[0].Replies, 1)
	assert.Equal(t, "Thanks!", detail.Comments[0].Replies[0].Content)
}

func TestCategoriesAreStaffOnly(t *testing.T) {
	s := newTestServer(t)
	admin := s.register("admin")
	alice := s.register("alice")

	w, _ := s.do(http.MethodPost, "/api/v1/categories", gin.H{"name": "Tech"}, withToken(alice.Token))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := s.do(http.MethodPost, "/api/v1/categories", gin.H{"name": "Tech"}, withToken(admin.Token))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	cat := decode[struct {
		ID   uint   `json:"id"`
		Slug string `json:"slug"`
	}](t, env.Data)
	assert.Equal(t, "tech", cat.Slug)

	w, _ = s.do(http.MethodPost, "/api/v1/categories", gin.H{"name": "Tech"}, withToken(admin.Token))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/posts", gin.H{
		"title": "In Tech", "content": "body", "status": "published", "category_id": cat.ID,
	}, withToken(alice.Token))
	require.Equal(t, http.StatusCreated, w.Code)

	w, env = s.do(http.MethodGet, "/api/v1/categories/tech/posts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	feed := decode[struct {
		Pagination struct {
			PageSize int   `json:"page_size"`
			Total    int64 `json:"total"`
		} `json:"pagination"`
	}](t, env.Data)
	assert.EqualValues(t, 1, feed.Pagination.Total)
	assert.Equal(t, 9, feed.Pagination.PageSize)

	w, _ = s.do(http.MethodGet, "/api/v1/categories/missing/posts", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewsletterAndStats(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")
	s.publish(alice, "Counted")

	w, env := s.do(http.MethodPost, "/api/v1/newsletter/subscribe", gin.H{"email": " Reader@Example.com "})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "subscribed", env.Message)

	w, env = s.do(http.MethodPost, "/api/v1/newsletter/subscribe", gin.H{"email": "reader@example.com"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "already_subscribed", env.Message)

	w, _ = s.do(http.MethodPost, "/api/v1/newsletter/subscribe", gin.H{"email": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.do(http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[struct {
		TotalPublished   int64 `json:"total_published"`
		TotalSubscribers int64 `json:"total_subscribers"`
	}](t, env.Data)
	assert.EqualValues(t, 1, stats.TotalPublished)
	assert.EqualValues(t, 1, stats.TotalSubscribers)

	w, _ = s.do(http.MethodPost, "/api/v1/newsletter/unsubscribe", gin.H{"email": "reader@example.com"})
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(http.MethodPost, "/api/v1/newsletter/unsubscribe", gin.H{"email": "ghost@example.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPageViewsAreRecorded(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/api/v1/posts", nil)
	s.do(http.MethodGet, "/api/v1/posts", nil)
	s.do(http.MethodGet, "/health", nil)

	var views []models.PageView
	require.NoError(t, s.db.Find(&views).Error)
	require.Len(t, views, 1)
	assert.Equal(t, "/api/v1/posts", views[0].Route)
	assert.EqualValues(t, 2, views[0].Count)
}

func TestViewsRefreshCachedStats(t *testing.T) {
	s := newTestServer(t)
	s.withRedis()
	alice := s.register("alice")
	s.publish(alice, "Quiet")
	popular := s.publish(alice, "Popular")

	type siteStats struct {
		TotalViews int64 `json:"total_views"`
	}
	w, env := s.do(http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode[siteStats](t, env.Data).TotalViews)
	s.do(http.MethodGet, "/api/v1/users/alice", nil)
	s.do(http.MethodGet, "/api/v1/posts?sort=views", nil)

	for i := 0; i < 3; i++ {
		w, _ = s.do(http.MethodGet, "/api/v1/posts/"+popular.Slug, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	_, env = s.do(http.MethodGet, "/api/v1/stats", nil)
	assert.EqualValues(t, 3, decode[siteStats](t, env.Data).TotalViews)

	_, env = s.do(http.MethodGet, "/api/v1/users/alice", nil)
	profile := decode[struct {
		Stats struct {
			TotalViews int64 `json:"total_views"`
		} `json:"stats"`
	}](t, env.Data)
	assert.EqualValues(t, 3, profile.Stats.TotalViews)

	_, env = s.do(http.MethodGet, "/api/v1/posts?sort=views", nil)
	feed := decode[struct {
		Items []postPayload `json:"items"`
	}](t, env.Data)
	require.NotEmpty(t, feed.Items)
	assert.Equal(t, popular.ID, feed.Items[0].ID)
	assert.EqualValues(t, 3, feed.Items[0].Views)
}

func TestStatsSurviveMissingPageViews(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.db.Migrator().DropTable(&models.PageView{}))

	w, env := s.do(http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[struct {
		TodayPageViews int64 `json:"today_page_views"`
	}](t, env.Data)
	assert.EqualValues(t, 0, stats.TodayPageViews)
}
