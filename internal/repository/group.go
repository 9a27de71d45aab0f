package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lunchroulette/server/internal/model"
)

// ErrInvalidQuery is returned for a GroupQuery that cannot be answered.
var ErrInvalidQuery = errors.New("invalid group query")

type Temporal int

const (
	// Upcoming selects groups meeting on or after AsOf.
	Upcoming Temporal = iota
	// PastByCreator selects groups of CreatorID that met before AsOf.
	PastByCreator
)

// GroupQuery describes one group listing. Zero ids mean "no filter".
type GroupQuery struct {
	Temporal       Temporal
	AsOf           time.Time
	IncludeDeleted bool
	// ParticipantID keeps groups the user created or joined.
	ParticipantID uint
	CreatorID     uint
}

// MutateFunc inspects a locked group and its current member count. It may
// modify g; returning save=false leaves the row untouched.
type MutateFunc func(g *model.Group, members int) (save bool, err error)

type IGroupRepository interface {
	Create(ctx context.Context, group *model.Group) error
	FindByID(ctx context.Context, id uint) (*model.Group, error)
	Mutate(ctx context.Context, id uint, fn MutateFunc) error
	List(ctx context.Context, q GroupQuery) ([]model.GroupSummary, error)
	Summary(ctx context.Context, id uint) (*model.GroupSummary, error)
	Detail(ctx context.Context, id uint) (*model.GroupDetail, error)
}

type GroupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

func (r *GroupRepository) Create(ctx context.Context, group *model.Group) error {
	return r.db.WithContext(ctx).Create(group).Error
}

// FindByID returns the group whether or not it is deleted.
func (r *GroupRepository) FindByID(ctx context.Context, id uint) (*model.Group, error) {
	var group model.Group
	if err := r.db.WithContext(ctx).First(&group, id).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

// Mutate runs fn against the group row under SELECT ... FOR UPDATE and saves
// the result in the same transaction.
func (r *GroupRepository) Mutate(ctx context.Context, id uint, fn MutateFunc) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group model.Group
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&group, id).Error; err != nil {
			return err
		}

		var members int64
		if err := tx.Model(&model.Membership{}).
			Where("group_id = ?", id).
			Distinct("user_id").
			Count(&members).Error; err != nil {
			return err
		}

		save, err := fn(&group, int(members))
		if err != nil || !save {
			return err
		}
		return tx.Save(&group).Error
	})
}

// summaries selects GroupSummary rows. num_members counts distinct non-creator
// members plus the creator.
func (r *GroupRepository) summaries(ctx context.Context) *gorm.DB {
	db := r.db.WithContext(ctx)
	counts := db.Table("lunch_groups").
		Select("group_id, COUNT(DISTINCT user_id) AS num_members").
		Group("group_id")

	return db.Table("group_details AS g").
		Select(`g.id, g.title, g.venue_id, v.name AS venue_name,
			g.creator_id, u.first_name AS creator_first_name, u.photo AS creator_photo,
			g.meeting_date, g.meeting_time, g.max_capacity,
			COALESCE(p.num_members, 0) + 1 AS num_members, g.is_deleted`).
		Joins("JOIN users u ON u.id = g.creator_id").
		Joins("JOIN venues v ON v.id = g.venue_id").
		Joins("LEFT JOIN (?) AS p ON p.group_id = g.id", counts)
}

// List answers every group listing: ascending by meeting date, ties by id.
func (r *GroupRepository) List(ctx context.Context, q GroupQuery) ([]model.GroupSummary, error) {
	tx := r.summaries(ctx)

	switch q.Temporal {
	case Upcoming:
		tx = tx.Where("g.meeting_date >= ?", q.AsOf)
	case PastByCreator:
		if q.CreatorID == 0 {
			return nil, ErrInvalidQuery
		}
		tx = tx.Where("g.meeting_date < ?", q.AsOf)
	default:
		return nil, ErrInvalidQuery
	}

	if !q.IncludeDeleted {
		tx = tx.Where("g.is_deleted = ?", false)
	}
	if q.CreatorID != 0 {
		tx = tx.Where("g.creator_id = ?", q.CreatorID)
	}
	if q.ParticipantID != 0 {
		tx = tx.Where("(g.creator_id = ? OR EXISTS (SELECT 1 FROM lunch_groups m WHERE m.group_id = g.id AND m.user_id = ?))",
			q.ParticipantID, q.ParticipantID)
	}

	groups := []model.GroupSummary{}
	err := tx.Order("g.meeting_date ASC").Order("g.id ASC").Scan(&groups).Error
	return groups, err
}

// Summary returns one non-deleted group regardless of its date.
func (r *GroupRepository) Summary(ctx context.Context, id uint) (*model.GroupSummary, error) {
	var rows []model.GroupSummary
	err := r.summaries(ctx).
		Where("g.id = ? AND g.is_deleted = ?", id, false).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &rows[0], nil
}

// Detail returns the summary plus description and venue address of a
// non-deleted group. Members and messages are filled in by the caller.
func (r *GroupRepository) Detail(ctx context.Context, id uint) (*model.GroupDetail, error) {
	summary, err := r.Summary(ctx, id)
	if err != nil {
		return nil, err
	}

	var extra struct {
		Description  string
		VenueAddress string
	}
	err = r.db.WithContext(ctx).Table("group_details AS g").
		Select("g.description, v.address AS venue_address").
		Joins("JOIN venues v ON v.id = g.venue_id").
		Where("g.id = ?", id).
		Scan(&extra).Error
	if err != nil {
		return nil, err
	}

	return &model.GroupDetail{
		GroupSummary: *summary,
		Description:  extra.Description,
		VenueAddress: extra.VenueAddress,
		Members:      []model.MemberInfo{},
		Messages:     []model.MessageView{},
	}, nil
}
