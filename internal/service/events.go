package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lunchroulette/server/internal/model"
	logger "github.com/lunchroulette/server/middleware/log"
)

// EventPublisher ships group events to downstream consumers.
type EventPublisher interface {
	PublishGroupEvent(ctx context.Context, event *model.GroupEvent) error
}

// Broadcaster pushes freshly posted messages to live subscribers.
type Broadcaster interface {
	BroadcastMessage(ctx context.Context, msg *model.MessageView) error
}

type nopPublisher struct{}

func (nopPublisher) PublishGroupEvent(context.Context, *model.GroupEvent) error { return nil }

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastMessage(context.Context, *model.MessageView) error { return nil }

// NopPublisher discards events. Used when kafka is disabled.
func NopPublisher() EventPublisher { return nopPublisher{} }

func NopBroadcaster() Broadcaster { return nopBroadcaster{} }

// emit publishes after commit. A failure is logged and never undoes the mutation.
func emit(ctx context.Context, pub EventPublisher, log *logger.Logger, typ model.EventType, groupID, actorID uint) {
	event := &model.GroupEvent{
		Type:       typ,
		GroupID:    groupID,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
	}
	if err := pub.PublishGroupEvent(ctx, event); err != nil {
		log.WarnContext(ctx, "failed to publish group event",
			zap.String("type", string(typ)),
			zap.Uint("group_id", groupID),
			zap.Error(err))
	}
}
