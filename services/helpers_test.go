package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cppla/aiblog/config"
	"github.com/cppla/aiblog/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_") + "_" + uuid.NewString()
	db, err := config.OpenDatabase("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name), "silent")
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db, models.All()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Email: username + "@example.com", IsActive: true}
	require.NoError(t, db.Create(u).Error)
	return u
}

func newStaff(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	u := newUser(t, db, username)
	require.NoError(t, db.Model(u).Update("is_staff", true).Error)
	u.IsStaff = true
	return u
}

func newPublishedPost(t *testing.T, svc *ContentService, author *models.User, title string) *models.Post {
	t.Helper()
	p, err := svc.CreatePost(context.Background(), author, PostInput{
		Title:   title,
		Content: "<p>" + title + " body</p>",
		Status:  models.StatusPublished,
	})
	require.NoError(t, err)
	return p
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

// memBag is an in-process SessionBag.
type memBag struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBag() *memBag {
	return &memBag{data: map[string][]byte{}}
}

func (b *memBag) Get(_ context.Context, key string, dst any) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (b *memBag) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.data[key] = raw
	b.mu.Unlock()
	return nil
}

func (b *memBag) Update(_ context.Context, key string, fn func(raw []byte) ([]byte, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next, err := fn(b.data[key])
	if err != nil {
		return err
	}
	b.data[key] = next
	return nil
}
