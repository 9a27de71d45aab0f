// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lunchroulette/server/internal/model"
	"github.com/lunchroulette/server/internal/storage"
)

var seq atomic.Uint64

// NewDB opens a migrated in-memory sqlite database. A single connection keeps
// the database alive and serializes transactions the way row locks would.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := storage.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// Day returns UTC midnight offset by days from today.
func Day(days int) time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+days, 0, 0, 0, 0, time.UTC)
}

func CreateUser(t testing.TB, db *gorm.DB, first, last string) *model.User {
	t.Helper()
	n := seq.Add(1)
	user := &model.User{
		FirstName:    first,
		LastName:     last,
		Email:        fmt.Sprintf("%s.%s.%d@example.com", first, last, n),
		PasswordHash: "x",
		Photo:        fmt.Sprintf("%s.png", first),
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func CreateVenue(t testing.TB, db *gorm.DB, name string) *model.Venue {
	t.Helper()
	venue := &model.Venue{Name: name, Address: name + " Street 1"}
	if err := db.Create(venue).Error; err != nil {
		t.Fatalf("failed to create venue: %v", err)
	}
	return venue
}

// CreateGroup inserts a group meeting days from today.
func CreateGroup(t testing.TB, db *gorm.DB, creator *model.User, venue *model.Venue, days, capacity int) *model.Group {
	t.Helper()
	group := &model.Group{
		Title:       fmt.Sprintf("lunch %d", seq.Add(1)),
		Description: "noodles",
		VenueID:     venue.ID,
		CreatorID:   creator.ID,
		MeetingDate: Day(days),
		MeetingTime: "12:30",
		MaxCapacity: capacity,
	}
	if err := db.Create(group).Error; err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	return group
}

func AddMember(t testing.TB, db *gorm.DB, group *model.Group, user *model.User) {
	t.Helper()
	if err := db.Create(&model.Membership{GroupID: group.ID, UserID: user.ID, JoinedAt: time.Now().UTC()}).Error; err != nil {
		t.Fatalf("failed to add member: %v", err)
	}
}

func SoftDelete(t testing.TB, db *gorm.DB, group *model.Group) {
	t.Helper()
	if err := db.Model(group).Update("is_deleted", true).Error; err != nil {
		t.Fatalf("failed to delete group: %v", err)
	}
}
