package model

import "time"

type EventType string

const (
	EventGroupCreated  EventType = "group.created"
	EventGroupUpdated  EventType = "group.updated"
	EventGroupDeleted  EventType = "group.deleted"
	EventMemberJoined  EventType = "member.joined"
	EventMemberLeft    EventType = "member.left"
	EventMessagePosted EventType = "message.posted"
)

// GroupEvent is published after a group mutation commits.
type GroupEvent struct {
	Type       EventType `json:"type"`
	GroupID    uint      `json:"group_id"`
	ActorID    uint      `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
