package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Stage is the persisted position of a record in the processing pipeline.
type Stage string

const (
	StageCreated      Stage = "created"
	StageUploaded     Stage = "uploaded"
	StageStaged       Stage = "staged"
	StageTranscribing Stage = "transcribing"
	StageTranscribed  Stage = "transcribed"
	StageGenerating   Stage = "generating"
	StageGenerated    Stage = "generated"
	StageFailed       Stage = "failed"
)

// FailedStage names the step a failed record broke in.
type FailedStage string

const (
	FailedUpload     FailedStage = "upload"
	FailedStaging    FailedStage = "stage"
	FailedTranscribe FailedStage = "transcribe"
	FailedGenerate   FailedStage = "generate"
)

type Record struct {
	ID            uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	OwnerID       uuid.UUID      `json:"ownerId" gorm:"type:uuid;not null;index"`
	Title         string         `json:"title"`
	AudioURL      string         `json:"audioUrl" gorm:"not null"`
	AudioKey      string         `json:"-" gorm:"not null"`
	ContentType   string         `json:"contentType"`
	Transcript    *string        `json:"transcript"`
	Stage         Stage          `json:"stage" gorm:"not null;default:created"`
	FailedStage   FailedStage    `json:"failedStage,omitempty"`
	FailureReason string         `json:"failureReason,omitempty"`
	WrittenText   *WrittenText   `json:"writtenText" gorm:"foreignKey:RecordID"`
	CreatedAt     time.Time      `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `json:"updatedAt" gorm:"autoUpdateTime"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
}

func (r *Record) HasTranscript() bool {
	return r.Transcript != nil && *r.Transcript != ""
}

// WrittenText is the generated text for a record; at most one per record.
type WrittenText struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	RecordID  uuid.UUID `json:"-" gorm:"type:uuid;not null;uniqueIndex"`
	Text      string    `json:"text" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt"`
}
