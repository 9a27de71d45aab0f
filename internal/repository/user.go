package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/lunchroulette/server/internal/model"
)

const (
	userCacheKeyPrefix = "user:info:"
	userCacheTTL       = 1 * time.Hour
)

type IUserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByID(ctx context.Context, id uint) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// UserRepository reads users through an optional redis cache. Cached copies
// carry no password hash, so credential checks go through FindByEmail.
type UserRepository struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewUserRepository(db *gorm.DB, rdb *redis.Client) *UserRepository {
	return &UserRepository{db: db, redis: rdb}
}

func userCacheKey(id uint) string {
	return fmt.Sprintf("%s%d", userCacheKeyPrefix, id)
}

// Create inserts user. A duplicate email surfaces as gorm.ErrDuplicatedKey.
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	if r.redis != nil {
		val, err := r.redis.Get(ctx, userCacheKey(id)).Result()
		if err == nil {
			var user model.User
			if json.Unmarshal([]byte(val), &user) == nil {
				return &user, nil
			}
		}
	}

	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}

	if r.redis != nil {
		if data, err := json.Marshal(&user); err == nil {
			r.redis.Set(ctx, userCacheKey(id), data, userCacheTTL)
		}
	}
	return &user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email).Count(&count).Error
	return count > 0, err
}
