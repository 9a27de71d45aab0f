package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lunchroulette/server/internal/model"
	"github.com/lunchroulette/server/internal/repository"
	logger "github.com/lunchroulette/server/middleware/log"
)

type IMembershipService interface {
	Join(ctx context.Context, groupID, userID uint) error
	Leave(ctx context.Context, groupID, userID uint) error
}

type MembershipService struct {
	memberRepo repository.IMembershipRepository
	events     EventPublisher
	log        *logger.Logger

	loc *time.Location
	now func() time.Time
}

func NewMembershipService(memberRepo repository.IMembershipRepository, events EventPublisher, loc *time.Location, log *logger.Logger) *MembershipService {
	if events == nil {
		events = NopPublisher()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &MembershipService{
		memberRepo: memberRepo,
		events:     events,
		log:        log,
		loc:        loc,
		now:        time.Now,
	}
}

// Join admits userID to a visible group with a free seat. It returns nil on
// success, ErrAlreadyMember, ErrCapacityExceeded or ErrGroupNotFound.
func (s *MembershipService) Join(ctx context.Context, groupID, userID uint) error {
	outcome, err := s.memberRepo.JoinWithinCapacity(ctx, groupID, userID, today(s.now(), s.loc))
	if err != nil {
		s.log.ErrorContext(ctx, "join failed", zap.Uint("group_id", groupID), zap.Error(err))
		return unavailable("join group", err)
	}

	switch outcome {
	case repository.Joined:
		s.log.InfoContext(ctx, "member joined", zap.Uint("group_id", groupID), zap.Uint("user_id", userID))
		emit(ctx, s.events, s.log, model.EventMemberJoined, groupID, userID)
		return nil
	case repository.AlreadyMember:
		return ErrAlreadyMember
	case repository.CapacityExceeded:
		return ErrCapacityExceeded
	default:
		return ErrGroupNotFound
	}
}

// Leave removes userID from the group. Leaving a group one is not part of is a no-op.
func (s *MembershipService) Leave(ctx context.Context, groupID, userID uint) error {
	removed, err := s.memberRepo.RemoveMember(ctx, groupID, userID)
	if err != nil {
		return unavailable("leave group", err)
	}
	if !removed {
		return nil
	}
	s.log.InfoContext(ctx, "member left", zap.Uint("group_id", groupID), zap.Uint("user_id", userID))
	emit(ctx, s.events, s.log, model.EventMemberLeft, groupID, userID)
	return nil
}
