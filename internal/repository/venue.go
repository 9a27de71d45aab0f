package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/lunchroulette/server/internal/model"
)

type IVenueRepository interface {
	Create(ctx context.Context, venue *model.Venue) error
	FindByID(ctx context.Context, id uint) (*model.Venue, error)
	List(ctx context.Context) ([]model.Venue, error)
}

type VenueRepository struct {
	db *gorm.DB
}

func NewVenueRepository(db *gorm.DB) *VenueRepository {
	return &VenueRepository{db: db}
}

func (r *VenueRepository) Create(ctx context.Context, venue *model.Venue) error {
	return r.db.WithContext(ctx).Create(venue).Error
}

func (r *VenueRepository) FindByID(ctx context.Context, id uint) (*model.Venue, error) {
	var venue model.Venue
	if err := r.db.WithContext(ctx).First(&venue, id).Error; err != nil {
		return nil, err
	}
	return &venue, nil
}

// List returns every venue ordered by name.
func (r *VenueRepository) List(ctx context.Context) ([]model.Venue, error) {
	var venues []model.Venue
	err := r.db.WithContext(ctx).Order("name ASC, id ASC").Find(&venues).Error
	return venues, err
}
