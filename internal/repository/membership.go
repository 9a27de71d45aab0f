package repository

import (
	"context"
	"errors"
	"slices"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lunchroulette/server/internal/model"
)

type JoinOutcome int

const (
	Joined JoinOutcome = iota + 1
	AlreadyMember
	CapacityExceeded
	// GroupUnavailable means the group is missing, deleted or already past.
	GroupUnavailable
)

func (o JoinOutcome) String() string {
	switch o {
	case Joined:
		return "joined"
	case AlreadyMember:
		return "already_member"
	case CapacityExceeded:
		return "capacity_exceeded"
	case GroupUnavailable:
		return "group_unavailable"
	default:
		return "unknown"
	}
}

type IMembershipRepository interface {
	CountMembers(ctx context.Context, groupID uint) (int, error)
	IsMember(ctx context.Context, groupID, userID uint) (bool, error)
	AddMember(ctx context.Context, groupID, userID uint) error
	RemoveMember(ctx context.Context, groupID, userID uint) (bool, error)
	JoinWithinCapacity(ctx context.Context, groupID, userID uint, asOf time.Time) (JoinOutcome, error)
	ListMembers(ctx context.Context, groupID uint) ([]model.MemberInfo, error)
}

type MembershipRepository struct {
	db *gorm.DB
}

func NewMembershipRepository(db *gorm.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// CountMembers counts distinct non-creator members.
func (r *MembershipRepository) CountMembers(ctx context.Context, groupID uint) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Membership{}).
		Where("group_id = ?", groupID).
		Distinct("user_id").
		Count(&count).Error
	return int(count), err
}

func (r *MembershipRepository) IsMember(ctx context.Context, groupID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Membership{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	return count > 0, err
}

func insertMember(tx *gorm.DB, groupID, userID uint) (bool, error) {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Membership{GroupID: groupID, UserID: userID, JoinedAt: time.Now().UTC()})
	return res.RowsAffected > 0, res.Error
}

// AddMember inserts the pair unless it already exists.
func (r *MembershipRepository) AddMember(ctx context.Context, groupID, userID uint) error {
	_, err := insertMember(r.db.WithContext(ctx), groupID, userID)
	return err
}

// RemoveMember deletes the pair if present and reports whether a row went away.
func (r *MembershipRepository) RemoveMember(ctx context.Context, groupID, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&model.Membership{})
	return res.RowsAffected > 0, res.Error
}

// JoinWithinCapacity adds userID to a visible group if a seat is left. The
// group row stays locked from the capacity check until the insert commits.
func (r *MembershipRepository) JoinWithinCapacity(ctx context.Context, groupID, userID uint, asOf time.Time) (JoinOutcome, error) {
	var outcome JoinOutcome

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group model.Group
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND is_deleted = ? AND meeting_date >= ?", groupID, false, asOf).
			First(&group).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = GroupUnavailable
			return nil
		}
		if err != nil {
			return err
		}

		var memberIDs []uint
		if err := tx.Model(&model.Membership{}).
			Where("group_id = ?", groupID).
			Distinct().
			Pluck("user_id", &memberIDs).Error; err != nil {
			return err
		}

		if group.CreatorID == userID || slices.Contains(memberIDs, userID) {
			outcome = AlreadyMember
			return nil
		}

		// creator + current members + the newcomer
		if len(memberIDs)+2 > group.MaxCapacity {
			outcome = CapacityExceeded
			return nil
		}

		inserted, err := insertMember(tx, groupID, userID)
		if err != nil {
			return err
		}
		if !inserted {
			outcome = AlreadyMember
			return nil
		}
		outcome = Joined
		return nil
	})
	if err != nil {
		return 0, err
	}
	return outcome, nil
}

// ListMembers returns the display fields of non-creator members in join order.
func (r *MembershipRepository) ListMembers(ctx context.Context, groupID uint) ([]model.MemberInfo, error) {
	members := []model.MemberInfo{}
	err := r.db.WithContext(ctx).Table("lunch_groups AS m").
		Select("u.id AS user_id, u.first_name, u.last_name, u.photo").
		Joins("JOIN users u ON u.id = m.user_id").
		Where("m.group_id = ?", groupID).
		Order("m.joined_at ASC").Order("m.user_id ASC").
		Scan(&members).Error
	return members, err
}
