package repositories

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rohits-web03/memoscribe/internal/apperr"
	"github.com/rohits-web03/memoscribe/internal/models"
	"gorm.io/gorm"
)

type UserRepository struct {
	db      *gorm.DB
	records *RecordRepository
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db, records: NewRecordRepository(db)}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts u with its email lower-cased. A taken email is a
// CONFLICT error.
func (r *UserRepository) CreateUser(ctx context.Context, u *models.User) error {
	u.Email = NormalizeEmail(u.Email)

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", u.Email).Count(&count).Error; err != nil {
		return apperr.Internal(err)
	}
	if count > 0 {
		return apperr.Conflict("User already exists with this email")
	}

	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique") {
			return apperr.Conflict("User already exists with this email")
		}
		return apperr.Internal(err)
	}
	return nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.find(ctx, "email = ?", NormalizeEmail(email))
}

// FindByID loads the user together with its ordered record ids.
func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := r.find(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	ids, err := r.records.OwnerRecordIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Records = ids
	return u, nil
}

func (r *UserRepository) find(ctx context.Context, query string, arg any) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).Where(query, arg).First(&u).Error
	switch {
	case err == nil:
		return &u, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperr.NotFound("User")
	default:
		return nil, apperr.Internal(err)
	}
}

func (r *UserRepository) SetProfileImage(ctx context.Context, id uuid.UUID, url string) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("profile_image_url", url)
	if res.Error != nil {
		return apperr.Internal(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("User")
	}
	return nil
}

// DeleteUser removes the user row and its record links. Records themselves
// are purged by the pipeline, which also owns their blobs.
func (r *UserRepository) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", id).Delete(&models.UserRecord{}).Error; err != nil {
		return apperr.Internal(err)
	}
	res := r.db.WithContext(ctx).Delete(&models.User{}, "id = ?", id)
	if res.Error != nil {
		return apperr.Internal(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("User")
	}
	return nil
}
