package helpers

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"social_backend/database"
	"social_backend/internal/auth"
	"social_backend/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const TestJWTSecret = "test-secret-for-chat-suite"

// Clock hands out strictly increasing whole-second timestamps. SQLite keeps
// times as text, so equal-width values compare in time order.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// NewTestDB opens a migrated SQLite database in the test's temp dir. gorm's
// autoCreate/autoUpdate timestamps come from clock.
func NewTestDB(t testing.TB, clock *Clock) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate",
		filepath.Join(t.TempDir(), "chat.db"),
	)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		NowFunc:        clock.Now,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err, "failed to open sqlite test database")
	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// SeedProfile inserts the profile of userID.
func SeedProfile(t testing.TB, db *gorm.DB, userID uint, username string) *models.Profile {
	t.Helper()
	profile := &models.Profile{UserID: userID, Username: username}
	require.NoError(t, db.Create(profile).Error, "failed to seed profile %s", username)
	return profile
}

// MintToken returns an access token for userID signed with TestJWTSecret.
func MintToken(t testing.TB, userID uint) string {
	t.Helper()
	token, err := auth.NewManager(TestJWTSecret, time.Hour).Issue(userID)
	require.NoError(t, err)
	return token
}
