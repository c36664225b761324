package services

import (
	"context"

	"github.com/cppla/aiblog/models"
)

// SessionBag is the per-visitor key/value storage supplied by the session provider.
// Values are JSON encoded by the implementation.
// Update is an atomic read-modify-write of the raw JSON under key; fn receives
// nil for a missing key and may be retried.
type SessionBag interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Update(ctx context.Context, key string, fn func(raw []byte) ([]byte, error)) error
}

// Principal is the acting party of a request: a member, or a guest carrying a session bag.
type Principal struct {
	User    *models.User
	Session SessionBag
}

// Member returns a principal for an authenticated user.
func Member(u *models.User) Principal {
	return Principal{User: u}
}

// Guest returns a principal for an anonymous visitor.
func Guest(session SessionBag) Principal {
	return Principal{Session: session}
}

// Authenticated reports whether the principal is a known user.
func (p Principal) Authenticated() bool {
	return p.User != nil && p.User.ID != 0
}

// Page is one offset-paginated slice of a listing.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func newPage[T any](items []T, page, pageSize int, total int64) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	}
}

func normalizePage(page, pageSize, defaultSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = defaultSize
	}
	return page, pageSize
}
