package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lunchroulette/server/internal/model"
	"github.com/lunchroulette/server/internal/repository"
	logger "github.com/lunchroulette/server/middleware/log"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// GroupParams carries every mutable field of a group.
type GroupParams struct {
	Title       string `json:"title" binding:"required,max=255"`
	Description string `json:"description" binding:"max=4000"`
	VenueID     uint   `json:"venue_id" binding:"required"`
	MaxCapacity int    `json:"max_capacity" binding:"required"`
	MeetingDate string `json:"meeting_date" binding:"required"` // YYYY-MM-DD
	MeetingTime string `json:"meeting_time" binding:"required"` // HH:MM
}

type IGroupService interface {
	CreateGroup(ctx context.Context, creatorID uint, params *GroupParams) (*model.Group, error)
	EditGroup(ctx context.Context, actorID, groupID uint, params *GroupParams) (*model.Group, error)
	SoftDeleteGroup(ctx context.Context, actorID, groupID uint) error
	ListVisible(ctx context.Context) ([]model.GroupSummary, error)
	ListForUser(ctx context.Context, userID uint) (*model.UserGroups, error)
	GetGroupDetail(ctx context.Context, groupID uint) (*model.GroupDetail, error)
	ListVenues(ctx context.Context) ([]model.Venue, error)
}

type GroupService struct {
	groupRepo   repository.IGroupRepository
	memberRepo  repository.IMembershipRepository
	venueRepo   repository.IVenueRepository
	messageRepo repository.IMessageRepository
	events      EventPublisher
	log         *logger.Logger

	loc *time.Location
	now func() time.Time
}

func NewGroupService(
	groupRepo repository.IGroupRepository,
	memberRepo repository.IMembershipRepository,
	venueRepo repository.IVenueRepository,
	messageRepo repository.IMessageRepository,
	events EventPublisher,
	loc *time.Location,
	log *logger.Logger,
) *GroupService {
	if events == nil {
		events = NopPublisher()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &GroupService{
		groupRepo:   groupRepo,
		memberRepo:  memberRepo,
		venueRepo:   venueRepo,
		messageRepo: messageRepo,
		events:      events,
		log:         log,
		loc:         loc,
		now:         time.Now,
	}
}

// today is the current calendar date in loc, as UTC midnight to match stored dates.
func today(now time.Time, loc *time.Location) time.Time {
	t := now.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type validGroup struct {
	title       string
	description string
	venueID     uint
	capacity    int
	date        time.Time
	clock       string
}

func validateParams(p *GroupParams) (*validGroup, error) {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, invalid("title is required")
	}
	if p.MaxCapacity < 1 {
		return nil, ErrInvalidCapacity
	}
	if p.VenueID == 0 {
		return nil, ErrVenueNotFound
	}
	date, err := time.Parse(dateLayout, strings.TrimSpace(p.MeetingDate))
	if err != nil {
		return nil, invalid("meeting_date must be YYYY-MM-DD")
	}
	clock, err := time.Parse(timeLayout, strings.TrimSpace(p.MeetingTime))
	if err != nil {
		return nil, invalid("meeting_time must be HH:MM")
	}
	return &validGroup{
		title:       title,
		description: strings.TrimSpace(p.Description),
		venueID:     p.VenueID,
		capacity:    p.MaxCapacity,
		date:        date.UTC(),
		clock:       clock.Format(timeLayout),
	}, nil
}

func (s *GroupService) checkVenue(ctx context.Context, op string, id uint) error {
	if _, err := s.venueRepo.FindByID(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrVenueNotFound
		}
		return unavailable(op, err)
	}
	return nil
}

// CreateGroup persists a new group owned by creatorID. The meeting date is not
// required to lie in the future.
func (s *GroupService) CreateGroup(ctx context.Context, creatorID uint, params *GroupParams) (*model.Group, error) {
	v, err := validateParams(params)
	if err != nil {
		return nil, err
	}
	if err := s.checkVenue(ctx, "create group", v.venueID); err != nil {
		return nil, err
	}

	group := &model.Group{
		Title:       v.title,
		Description: v.description,
		VenueID:     v.venueID,
		CreatorID:   creatorID,
		MeetingDate: v.date,
		MeetingTime: v.clock,
		MaxCapacity: v.capacity,
	}
	if err := s.groupRepo.Create(ctx, group); err != nil {
		return nil, unavailable("create group", err)
	}

	s.log.InfoContext(ctx, "group created",
		zap.Uint("group_id", group.ID),
		zap.Uint("creator_id", creatorID))
	emit(ctx, s.events, s.log, model.EventGroupCreated, group.ID, creatorID)
	return group, nil
}

// EditGroup overwrites every mutable field. Only the creator may edit, and the
// new capacity must still fit the current participants.
func (s *GroupService) EditGroup(ctx context.Context, actorID, groupID uint, params *GroupParams) (*model.Group, error) {
	v, err := validateParams(params)
	if err != nil {
		return nil, err
	}
	if err := s.checkVenue(ctx, "edit group", v.venueID); err != nil {
		return nil, err
	}

	var updated model.Group
	err = s.groupRepo.Mutate(ctx, groupID, func(g *model.Group, members int) (bool, error) {
		if g.IsDeleted {
			return false, ErrGroupNotFound
		}
		if g.CreatorID != actorID {
			return false, ErrForbidden
		}
		if v.capacity < members+1 {
			return false, ErrInvalidCapacity
		}

		g.Title = v.title
		g.Description = v.description
		g.VenueID = v.venueID
		g.MeetingDate = v.date
		g.MeetingTime = v.clock
		g.MaxCapacity = v.capacity
		updated = *g
		return true, nil
	})
	if err != nil {
		return nil, s.mutationError("edit group", err)
	}

	s.log.InfoContext(ctx, "group updated", zap.Uint("group_id", groupID), zap.Uint("actor_id", actorID))
	emit(ctx, s.events, s.log, model.EventGroupUpdated, groupID, actorID)
	return &updated, nil
}

// SoftDeleteGroup hides the group. Deleting an already deleted group is a no-op.
func (s *GroupService) SoftDeleteGroup(ctx context.Context, actorID, groupID uint) error {
	changed := false
	err := s.groupRepo.Mutate(ctx, groupID, func(g *model.Group, _ int) (bool, error) {
		if g.CreatorID != actorID {
			return false, ErrForbidden
		}
		if g.IsDeleted {
			return false, nil
		}
		g.IsDeleted = true
		changed = true
		return true, nil
	})
	if err != nil {
		return s.mutationError("delete group", err)
	}

	if changed {
		s.log.InfoContext(ctx, "group deleted", zap.Uint("group_id", groupID), zap.Uint("actor_id", actorID))
		emit(ctx, s.events, s.log, model.EventGroupDeleted, groupID, actorID)
	}
	return nil
}

func (s *GroupService) mutationError(op string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrGroupNotFound
	case errors.Is(err, ErrGroupNotFound), errors.Is(err, ErrForbidden), errors.Is(err, ErrInvalidCapacity):
		return err
	default:
		return unavailable(op, err)
	}
}

// ListVisible returns every group that is not deleted and meets today or later.
func (s *GroupService) ListVisible(ctx context.Context) ([]model.GroupSummary, error) {
	groups, err := s.groupRepo.List(ctx, repository.GroupQuery{
		Temporal: repository.Upcoming,
		AsOf:     today(s.now(), s.loc),
	})
	if err != nil {
		return nil, unavailable("list groups", err)
	}
	return groups, nil
}

// ListForUser splits the user's groups: current ones they created or joined,
// and past ones they created, deleted or not.
func (s *GroupService) ListForUser(ctx context.Context, userID uint) (*model.UserGroups, error) {
	asOf := today(s.now(), s.loc)

	current, err := s.groupRepo.List(ctx, repository.GroupQuery{
		Temporal:      repository.Upcoming,
		AsOf:          asOf,
		ParticipantID: userID,
	})
	if err != nil {
		return nil, unavailable("list user groups", err)
	}

	past, err := s.groupRepo.List(ctx, repository.GroupQuery{
		Temporal:       repository.PastByCreator,
		AsOf:           asOf,
		CreatorID:      userID,
		IncludeDeleted: true,
	})
	if err != nil {
		return nil, unavailable("list user groups", err)
	}

	return &model.UserGroups{Current: current, Past: past}, nil
}

// GetGroupDetail returns a non-deleted group with its members and newest-first
// messages. Past groups stay viewable.
func (s *GroupService) GetGroupDetail(ctx context.Context, groupID uint) (*model.GroupDetail, error) {
	detail, err := s.groupRepo.Detail(ctx, groupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, unavailable("group detail", err)
	}

	if detail.Members, err = s.memberRepo.ListMembers(ctx, groupID); err != nil {
		return nil, unavailable("group detail", err)
	}
	if detail.Messages, err = s.messageRepo.ListByGroup(ctx, groupID); err != nil {
		return nil, unavailable("group detail", err)
	}
	return detail, nil
}

func (s *GroupService) ListVenues(ctx context.Context) ([]model.Venue, error) {
	venues, err := s.venueRepo.List(ctx)
	if err != nil {
		return nil, unavailable("list venues", err)
	}
	return venues, nil
}
