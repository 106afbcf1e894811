package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rohits-web03/memoscribe/internal/apperr"
	"github.com/rohits-web03/memoscribe/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordRepository persists records and their ownership links. Each
// mutation is a single statement; nothing here reads a document back just to
// write it again.
type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) CreateRecord(ctx context.Context, rec *models.Record) error {
	if rec.AudioURL == "" {
		return apperr.InvariantViolation("record requires an audio location")
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (r *RecordRepository) GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	var rec models.Record
	err := r.db.WithContext(ctx).Preload("WrittenText").First(&rec, "id = ?", id).Error
	switch {
	case err == nil:
		return &rec, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperr.NotFound("Record")
	default:
		return nil, apperr.Internal(err)
	}
}

// ListByOwner returns the owner's records in association order.
func (r *RecordRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Record, error) {
	var recs []models.Record
	err := r.db.WithContext(ctx).
		Preload("WrittenText").
		Joins("JOIN user_records ON user_records.record_id = records.id").
		Where("user_records.user_id = ?", ownerID).
		Order("user_records.seq").
		Find(&recs).Error
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return recs, nil
}

func (r *RecordRepository) updateColumns(ctx context.Context, id uuid.UUID, cols map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.Record{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return apperr.Internal(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("Record")
	}
	return nil
}

// SetStage records a pipeline transition. failed and reason are only kept
// for StageFailed and cleared otherwise.
func (r *RecordRepository) SetStage(ctx context.Context, id uuid.UUID, stage models.Stage, failed models.FailedStage, reason string) error {
	if stage != models.StageFailed {
		failed, reason = "", ""
	}
	return r.updateColumns(ctx, id, map[string]any{
		"stage":          stage,
		"failed_stage":   failed,
		"failure_reason": reason,
	})
}

// SetTranscript overwrites the transcript and marks the record transcribed.
func (r *RecordRepository) SetTranscript(ctx context.Context, id uuid.UUID, transcript string) error {
	return r.updateColumns(ctx, id, map[string]any{
		"transcript":     transcript,
		"stage":          models.StageTranscribed,
		"failed_stage":   "",
		"failure_reason": "",
	})
}

// SetWrittenText replaces the record's generated text in one upsert keyed on
// record_id. The caller supplies a fresh ID each time.
func (r *RecordRepository) SetWrittenText(ctx context.Context, recordID uuid.UUID, wt *models.WrittenText) error {
	wt.RecordID = recordID
	if wt.ID == uuid.Nil {
		wt.ID = uuid.New()
	}
	if wt.CreatedAt.IsZero() {
		wt.CreatedAt = time.Now()
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"id", "text", "created_at"}),
	}).Create(wt).Error
	if err != nil {
		return apperr.Internal(err)
	}
	return r.SetStage(ctx, recordID, models.StageGenerated, "", "")
}

// DeleteRecord soft-deletes the record.
func (r *RecordRepository) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&models.Record{}, "id = ?", id)
	if res.Error != nil {
		return apperr.Internal(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("Record")
	}
	return nil
}

// AppendToOwner adds recordID to the user's collection. Appending an id that
// is already present is a no-op.
func (r *RecordRepository) AppendToOwner(ctx context.Context, userID, recordID uuid.UUID) error {
	link := models.UserRecord{UserID: userID, RecordID: recordID}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&link).Error
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (r *RecordRepository) RemoveFromOwner(ctx context.Context, userID, recordID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND record_id = ?", userID, recordID).
		Delete(&models.UserRecord{}).Error
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// OwnerRecordIDs returns the user's record ids in association order.
func (r *RecordRepository) OwnerRecordIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.UserRecord{}).
		Where("user_id = ?", userID).
		Order("seq").
		Pluck("record_id", &ids).Error
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return ids, nil
}
