package model

import "time"

// Group is a lunch meetup at a venue. The creator is its implicit first member
// and is never stored in lunch_groups.
type Group struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"not null;type:varchar(255)" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	VenueID     uint      `gorm:"not null;index" json:"venue_id"`
	CreatorID   uint      `gorm:"not null;index" json:"creator_id"`
	MeetingDate time.Time `gorm:"type:date;not null;index" json:"meeting_date"`
	MeetingTime string    `gorm:"not null;type:varchar(5)" json:"meeting_time"` // HH:MM
	MaxCapacity int       `gorm:"not null" json:"max_capacity"`
	IsDeleted   bool      `gorm:"not null;default:false;index" json:"is_deleted"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Group) TableName() string {
	return "group_details"
}

// Membership records a non-creator participant.
type Membership struct {
	GroupID uint `gorm:"primaryKey;autoIncrement:false" json:"group_id"`
	UserID  uint `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`

	JoinedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"joined_at"`
}

func (Membership) TableName() string {
	return "lunch_groups"
}

// GroupSummary is one row of a group listing.
type GroupSummary struct {
	ID               uint      `json:"id"`
	Title            string    `json:"title"`
	VenueID          uint      `json:"venue_id"`
	VenueName        string    `json:"venue_name"`
	CreatorID        uint      `json:"creator_id"`
	CreatorFirstName string    `json:"creator_first_name"`
	CreatorPhoto     string    `json:"creator_photo"`
	MeetingDate      time.Time `json:"meeting_date"`
	MeetingTime      string    `json:"meeting_time"`
	MaxCapacity      int       `json:"max_capacity"`
	NumMembers       int       `json:"num_members"`
	IsDeleted        bool      `json:"is_deleted"`
}

type MemberInfo struct {
	UserID    uint   `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Photo     string `json:"photo"`
}

type GroupDetail struct {
	GroupSummary
	Description  string        `json:"description"`
	VenueAddress string        `json:"venue_address"`
	Members      []MemberInfo  `json:"members"`
	Messages     []MessageView `json:"messages"`
}

// UserGroups splits a user's groups into upcoming and past ones.
type UserGroups struct {
	Current []GroupSummary `json:"current"`
	Past    []GroupSummary `json:"past"`
}
