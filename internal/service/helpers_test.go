package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/lunchroulette/server/internal/model"
	"github.com/lunchroulette/server/internal/repository"
	"github.com/lunchroulette/server/internal/testutil"
	logger "github.com/lunchroulette/server/middleware/log"
)

// recorder captures published events and broadcast messages.
type recorder struct {
	mu       sync.Mutex
	events   []model.GroupEvent
	messages []model.MessageView
	fail     bool
}

func (r *recorder) PublishGroupEvent(_ context.Context, e *model.GroupEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("broker down")
	}
	r.events = append(r.events, *e)
	return nil
}

func (r *recorder) BroadcastMessage(_ context.Context, m *model.MessageView) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("hub down")
	}
	r.messages = append(r.messages, *m)
	return nil
}

func (r *recorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	db       *gorm.DB
	rec      *recorder
	groups   *GroupService
	members  *MembershipService
	messages *MessageService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	rec := &recorder{}
	log := logger.NewNop()

	groupRepo := repository.NewGroupRepository(db)
	memberRepo := repository.NewMembershipRepository(db)
	venueRepo := repository.NewVenueRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	userRepo := repository.NewUserRepository(db, nil)

	return &fixture{
		db:       db,
		rec:      rec,
		groups:   NewGroupService(groupRepo, memberRepo, venueRepo, messageRepo, rec, time.UTC, log),
		members:  NewMembershipService(memberRepo, rec, time.UTC, log),
		messages: NewMessageService(messageRepo, groupRepo, userRepo, rec, rec, log),
	}
}

func params(venueID uint, days, capacity int) *GroupParams {
	return &GroupParams{
		Title:       "Friday dumplings",
		Description: "bring cash",
		VenueID:     venueID,
		MaxCapacity: capacity,
		MeetingDate: testutil.Day(days).Format(dateLayout),
		MeetingTime: "12:15",
	}
}
