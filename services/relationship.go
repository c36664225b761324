package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/utils"
)

// FollowersPageSize is the default page size of follower listings.
const FollowersPageSize = 20

// guestLikesKey is the session bag key holding the post ids a guest liked.
const guestLikesKey = "liked_posts"

// RelationshipService maintains the follow graph and the like set.
type RelationshipService struct {
	db *gorm.DB
}

// NewRelationshipService creates a RelationshipService backed by db.
func NewRelationshipService(db *gorm.DB) *RelationshipService {
	return &RelationshipService{db: db}
}

// FollowResult is the outcome of a follow toggle.
type FollowResult struct {
	IsFollowing    bool   `json:"is_following"`
	Action         string `json:"action"`
	FollowersCount int64  `json:"followers_count"`
}

// LikeResult is the outcome of a like toggle. LikeCount is a display value:
// persisted likes plus the caller's own guest like, if any.
type LikeResult struct {
	IsLiked   bool  `json:"is_liked"`
	LikeCount int64 `json:"like_count"`
}

// FollowEntry is one row of a follower or following listing.
type FollowEntry struct {
	User       models.User `json:"user"`
	FollowedAt time.Time   `json:"followed_at"`
}

// FollowCounts summarizes both directions of a user's follow graph.
type FollowCounts struct {
	Followers int64 `json:"followers"`
	Following int64 `json:"following"`
}

// FollowUser toggles the edge actor -> target.
func (s *RelationshipService) FollowUser(ctx context.Context, actor *models.User, targetID uint) (FollowResult, error) {
	if actor == nil || actor.ID == 0 {
		return FollowResult{}, validationError("login required to follow users")
	}
	if actor.ID == targetID {
		return FollowResult{}, invalidOperation("cannot follow yourself")
	}

	var target models.User
	if err := s.db.WithContext(ctx).Select("id").First(&target, targetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return FollowResult{}, notFound("user %d not found", targetID)
		}
		return FollowResult{}, fmt.Errorf("load user %d: %w", targetID, err)
	}

	following, err := toggleRow(ctx, s.db,
		&models.Follow{FollowerID: actor.ID, FolloweeID: target.ID}, &models.Follow{},
		"follower_id = ? AND followee_id = ?", actor.ID, target.ID)
	if err != nil {
		return FollowResult{}, fmt.Errorf("toggle follow: %w", err)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Follow{}).Where("followee_id = ?", target.ID).Count(&count).Error; err != nil {
		return FollowResult{}, fmt.Errorf("count followers: %w", err)
	}

	action := "unfollowed"
	if following {
		action = "followed"
	}
	return FollowResult{IsFollowing: following, Action: action, FollowersCount: count}, nil
}

// IsFollowing reports whether followerID follows followeeID.
func (s *RelationshipService) IsFollowing(ctx context.Context, followerID, followeeID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Follow{}).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Count(&n).Error
	return n > 0, err
}

// FollowCounts returns follower and following totals for userID.
func (s *RelationshipService) FollowCounts(ctx context.Context, userID uint) (FollowCounts, error) {
	var c FollowCounts
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Follow{}).Where("followee_id = ?", userID).Count(&c.Followers).Error; err != nil {
		return c, fmt.Errorf("count followers: %w", err)
	}
	if err := db.Model(&models.Follow{}).Where("follower_id = ?", userID).Count(&c.Following).Error; err != nil {
		return c, fmt.Errorf("count following: %w", err)
	}
	return c, nil
}

// ListFollowers returns the followers of username, most recent first.
func (s *RelationshipService) ListFollowers(ctx context.Context, username string, page, pageSize int) (Page[FollowEntry], error) {
	return s.listEdges(ctx, username, page, pageSize, "followee_id", "Follower")
}

// ListFollowing returns the users username follows, most recent first.
func (s *RelationshipService) ListFollowing(ctx context.Context, username string, page, pageSize int) (Page[FollowEntry], error) {
	return s.listEdges(ctx, username, page, pageSize, "follower_id", "Followee")
}

func (s *RelationshipService) listEdges(ctx context.Context, username string, page, pageSize int, column, other string) (Page[FollowEntry], error) {
	page, pageSize = normalizePage(page, pageSize, FollowersPageSize)

	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Page[FollowEntry]{}, notFound("user %q not found", username)
		}
		return Page[FollowEntry]{}, fmt.Errorf("load user %q: %w", username, err)
	}

	q := s.db.WithContext(ctx).Model(&models.Follow{}).Where(column+" = ?", user.ID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return Page[FollowEntry]{}, fmt.Errorf("count edges: %w", err)
	}

	var edges []models.Follow
	if err := q.Preload(other).Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&edges).Error; err != nil {
		return Page[FollowEntry]{}, fmt.Errorf("list edges: %w", err)
	}

	entries := make([]FollowEntry, 0, len(edges))
	for _, e := range edges {
		u := e.Follower
		if other == "Followee" {
			u = e.Followee
		}
		entries = append(entries, FollowEntry{User: u, FollowedAt: e.CreatedAt})
	}
	return newPage(entries, page, pageSize, total), nil
}

// LikeUnlikePost toggles the principal's like on a published post. Members get a
// persisted row; guests only flip the post id inside their session bag.
func (s *RelationshipService) LikeUnlikePost(ctx context.Context, p Principal, postID uint) (LikeResult, error) {
	if err := s.requirePublished(ctx, postID); err != nil {
		return LikeResult{}, err
	}

	if p.Authenticated() {
		liked, err := toggleRow(ctx, s.db,
			&models.Like{UserID: p.User.ID, PostID: postID}, &models.Like{},
			"user_id = ? AND post_id = ?", p.User.ID, postID)
		if err != nil {
			return LikeResult{}, fmt.Errorf("toggle like: %w", err)
		}
		count, err := s.persistedLikes(ctx, postID)
		if err != nil {
			return LikeResult{}, err
		}
		return LikeResult{IsLiked: liked, LikeCount: count}, nil
	}

	if p.Session == nil {
		return LikeResult{}, validationError("a session is required to like posts")
	}
	var liked bool
	err := p.Session.Update(ctx, guestLikesKey, func(raw []byte) ([]byte, error) {
		var ids []uint
		if raw != nil {
			if err := json.Unmarshal(raw, &ids); err != nil {
				return nil, err
			}
		}
		liked = true
		next := make([]uint, 0, len(ids)+1)
		for _, id := range utils.UniqueUint(ids) {
			if id == postID {
				liked = false
				continue
			}
			next = append(next, id)
		}
		if liked {
			next = append(next, postID)
		}
		return json.Marshal(next)
	})
	if err != nil {
		return LikeResult{}, fmt.Errorf("save guest likes: %w", err)
	}

	count, err := s.persistedLikes(ctx, postID)
	if err != nil {
		return LikeResult{}, err
	}
	if liked {
		count++
	}
	return LikeResult{IsLiked: liked, LikeCount: count}, nil
}

// LikeState returns whether the principal likes postID and the display count.
func (s *RelationshipService) LikeState(ctx context.Context, p Principal, postID uint) (LikeResult, error) {
	count, err := s.persistedLikes(ctx, postID)
	if err != nil {
		return LikeResult{}, err
	}

	if p.Authenticated() {
		var n int64
		if err := s.db.WithContext(ctx).Model(&models.Like{}).
			Where("user_id = ? AND post_id = ?", p.User.ID, postID).Count(&n).Error; err != nil {
			return LikeResult{}, fmt.Errorf("load like: %w", err)
		}
		return LikeResult{IsLiked: n > 0, LikeCount: count}, nil
	}

	if p.Session == nil {
		return LikeResult{LikeCount: count}, nil
	}
	ids, err := guestLikes(ctx, p.Session)
	if err != nil {
		return LikeResult{}, err
	}
	for _, id := range ids {
		if id == postID {
			return LikeResult{IsLiked: true, LikeCount: count + 1}, nil
		}
	}
	return LikeResult{LikeCount: count}, nil
}

// IsLiked reports whether the principal currently likes postID.
func (s *RelationshipService) IsLiked(ctx context.Context, p Principal, postID uint) (bool, error) {
	st, err := s.LikeState(ctx, p, postID)
	return st.IsLiked, err
}

func (s *RelationshipService) persistedLikes(ctx context.Context, postID uint) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Like{}).Where("post_id = ?", postID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count likes: %w", err)
	}
	return n, nil
}

func (s *RelationshipService) requirePublished(ctx context.Context, postID uint) error {
	var post models.Post
	if err := s.db.WithContext(ctx).Select("id", "status").First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("post %d not found", postID)
		}
		return fmt.Errorf("load post %d: %w", postID, err)
	}
	if !post.IsPublished() {
		return invalidOperation("post %d is not published", postID)
	}
	return nil
}

func guestLikes(ctx context.Context, bag SessionBag) ([]uint, error) {
	var ids []uint
	if _, err := bag.Get(ctx, guestLikesKey, &ids); err != nil {
		return nil, fmt.Errorf("load guest likes: %w", err)
	}
	return utils.UniqueUint(ids), nil
}

// toggleRow inserts row unless its unique key already exists, in which case the
// existing row is deleted. The unique index arbitrates concurrent toggles, so a
// lost insert race turns into a delete instead of an error.
// It reports whether the row exists afterwards.
func toggleRow(ctx context.Context, db *gorm.DB, row, model any, where string, args ...any) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if err := db.WithContext(ctx).Where(where, args...).Delete(model).Error; err != nil {
		return false, err
	}
	return false, nil
}
