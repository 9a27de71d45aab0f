package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lunchroulette/server/internal/model"
	"github.com/lunchroulette/server/internal/repository"
	logger "github.com/lunchroulette/server/middleware/log"
)

const maxMessageLength = 2000

type PostMessageRequest struct {
	Body string `json:"body" binding:"required"`
}

type IMessageService interface {
	PostMessage(ctx context.Context, groupID, userID uint, body string) (*model.MessageView, error)
	ListMessages(ctx context.Context, groupID uint) ([]model.MessageView, error)
}

type MessageService struct {
	messageRepo repository.IMessageRepository
	groupRepo   repository.IGroupRepository
	userRepo    repository.IUserRepository
	broadcaster Broadcaster
	events      EventPublisher
	log         *logger.Logger
}

func NewMessageService(
	messageRepo repository.IMessageRepository,
	groupRepo repository.IGroupRepository,
	userRepo repository.IUserRepository,
	broadcaster Broadcaster,
	events EventPublisher,
	log *logger.Logger,
) *MessageService {
	if broadcaster == nil {
		broadcaster = NopBroadcaster()
	}
	if events == nil {
		events = NopPublisher()
	}
	return &MessageService{
		messageRepo: messageRepo,
		groupRepo:   groupRepo,
		userRepo:    userRepo,
		broadcaster: broadcaster,
		events:      events,
		log:         log,
	}
}

func (s *MessageService) requireGroup(ctx context.Context, op string, groupID uint) error {
	group, err := s.groupRepo.FindByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrGroupNotFound
		}
		return unavailable(op, err)
	}
	if group.IsDeleted {
		return ErrGroupNotFound
	}
	return nil
}

// PostMessage appends a message to an existing, non-deleted group and pushes it
// to live subscribers.
func (s *MessageService) PostMessage(ctx context.Context, groupID, userID uint, body string) (*model.MessageView, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, invalid("message body is required")
	}
	if utf8.RuneCountInString(body) > maxMessageLength {
		return nil, invalid("message body exceeds %d characters", maxMessageLength)
	}
	if err := s.requireGroup(ctx, "post message", groupID); err != nil {
		return nil, err
	}

	author, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, unavailable("post message", err)
	}

	msg := &model.Message{GroupID: groupID, UserID: userID, Body: body}
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, unavailable("post message", err)
	}

	view := &model.MessageView{
		ID:        msg.ID,
		GroupID:   groupID,
		UserID:    userID,
		FirstName: author.FirstName,
		LastName:  author.LastName,
		Photo:     author.Photo,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	}
	if err := s.broadcaster.BroadcastMessage(ctx, view); err != nil {
		s.log.WarnContext(ctx, "failed to broadcast message", zap.Uint("group_id", groupID), zap.Error(err))
	}
	emit(ctx, s.events, s.log, model.EventMessagePosted, groupID, userID)
	return view, nil
}

// ListMessages returns the group's messages newest first.
func (s *MessageService) ListMessages(ctx context.Context, groupID uint) ([]model.MessageView, error) {
	if err := s.requireGroup(ctx, "list messages", groupID); err != nil {
		return nil, err
	}
	messages, err := s.messageRepo.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	return messages, nil
}
