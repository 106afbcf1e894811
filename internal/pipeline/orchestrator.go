// Package pipeline drives a record from upload to generated text. The
// orchestrator is the only component that mutates a record's pipeline state;
// the storage and provider clients it holds are created once per process.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rohits-web03/memoscribe/internal/apperr"
	"github.com/rohits-web03/memoscribe/internal/blobstore"
	"github.com/rohits-web03/memoscribe/internal/generation"
	"github.com/rohits-web03/memoscribe/internal/models"
	"github.com/rohits-web03/memoscribe/internal/staging"
	"github.com/rohits-web03/memoscribe/internal/transcription"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

type RecordStore interface {
	CreateRecord(ctx context.Context, rec *models.Record) error
	GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Record, error)
	SetStage(ctx context.Context, id uuid.UUID, stage models.Stage, failed models.FailedStage, reason string) error
	SetTranscript(ctx context.Context, id uuid.UUID, transcript string) error
	SetWrittenText(ctx context.Context, recordID uuid.UUID, wt *models.WrittenText) error
	DeleteRecord(ctx context.Context, id uuid.UUID) error
	AppendToOwner(ctx context.Context, userID, recordID uuid.UUID) error
	RemoveFromOwner(ctx context.Context, userID, recordID uuid.UUID) error
}

type BlobStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentHint string, formats blobstore.FormatSet) (string, error)
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
	Delete(ctx context.Context, url string) error
}

type Stager interface {
	Stage(ctx context.Context, name string, r io.Reader, ext string) (*staging.Handle, error)
}

type Deps struct {
	Records     RecordStore
	Blobs       BlobStore
	Staging     Stager
	Transcriber transcription.Transcriber
	Generator   generation.Generator
	Log         logrus.FieldLogger
}

type Options struct {
	Retry                RetryPolicy
	UploadTimeout        time.Duration
	FetchTimeout         time.Duration
	TranscriptionTimeout time.Duration
	GenerationTimeout    time.Duration
	MaxUploadBytes       int64
}

func DefaultOptions() Options {
	return Options{
		Retry:                DefaultRetryPolicy(),
		UploadTimeout:        30 * time.Second,
		FetchTimeout:         30 * time.Second,
		TranscriptionTimeout: 60 * time.Second,
		GenerationTimeout:    30 * time.Second,
		MaxUploadBytes:       transcription.MaxFileBytes,
	}
}

type Orchestrator struct {
	records     RecordStore
	blobs       BlobStore
	staging     Stager
	transcriber transcription.Transcriber
	generator   generation.Generator
	log         logrus.FieldLogger
	opts        Options

	inflight singleflight.Group
	bg       sync.WaitGroup
}

func New(deps Deps, opts Options) *Orchestrator {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{
		records:     deps.Records,
		blobs:       deps.Blobs,
		staging:     deps.Staging,
		transcriber: deps.Transcriber,
		generator:   deps.Generator,
		log:         log.WithField("component", "pipeline"),
		opts:        opts,
	}
}

// Upload is one client-provided recording.
type Upload struct {
	OwnerID     uuid.UUID
	Title       string
	Filename    string
	ContentType string
	Body        io.Reader
	Size        int64
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// timeoutAs converts a deadline hit into the retryable error of the stage.
func timeoutAs(ctx context.Context, err error, wrap func(error) *apperr.Error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	if kind := apperr.KindOf(err); kind == apperr.KindInternal {
		return wrap(err)
	}
	return err
}

func (o *Orchestrator) transition(ctx context.Context, rec *models.Record, to models.Stage, failed models.FailedStage, cause error) error {
	reason := ""
	if cause != nil {
		reason = apperr.PublicMessage(cause)
	}
	entry := o.log.WithFields(logrus.Fields{
		"record_id": rec.ID,
		"from":      rec.Stage,
		"to":        to,
	})
	if err := o.records.SetStage(ctx, rec.ID, to, failed, reason); err != nil {
		entry.WithError(err).Error("stage transition not persisted")
		return err
	}
	if cause != nil {
		entry.WithField("failed_stage", failed).WithError(cause).Warn("record stage changed")
	} else {
		entry.Info("record stage changed")
	}
	rec.Stage, rec.FailedStage, rec.FailureReason = to, failed, reason
	return nil
}

// hintFor picks the content hint used to validate and name the blob.
func hintFor(u Upload) string {
	if ct := strings.TrimSpace(u.ContentType); ct != "" && ct != "application/octet-stream" {
		if _, err := blobstore.AudioFormats.Validate(ct); err == nil {
			return ct
		}
	}
	if u.Filename != "" {
		return path.Base(u.Filename)
	}
	return u.ContentType
}

// Submit uploads the audio, persists the record in stage uploaded, links it
// to its owner and schedules transcription in the background. When the upload
// fails no record exists afterwards.
func (o *Orchestrator) Submit(ctx context.Context, u Upload) (*models.Record, error) {
	if u.OwnerID == uuid.Nil {
		return nil, apperr.Unauthorized("")
	}
	if u.Body == nil {
		return nil, apperr.Validation("audio file is required")
	}
	if o.opts.MaxUploadBytes > 0 && u.Size > o.opts.MaxUploadBytes {
		return nil, apperr.InvalidAudio(fmt.Sprintf("audio file exceeds %d bytes", o.opts.MaxUploadBytes))
	}
	hint := hintFor(u)
	ext, err := blobstore.AudioFormats.Validate(hint)
	if err != nil {
		return nil, err
	}

	// Retried uploads rewind the body, so it has to be seekable.
	if _, ok := u.Body.(io.ReadSeeker); !ok {
		limit := o.opts.MaxUploadBytes
		if limit <= 0 {
			limit = transcription.MaxFileBytes
		}
		buf, err := io.ReadAll(io.LimitReader(u.Body, limit+1))
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "Could not read audio file", err)
		}
		if int64(len(buf)) > limit {
			return nil, apperr.InvalidAudio(fmt.Sprintf("audio file exceeds %d bytes", limit))
		}
		u.Body = bytes.NewReader(buf)
	}

	ctx = context.WithoutCancel(ctx)
	rec := &models.Record{
		ID:          uuid.New(),
		OwnerID:     u.OwnerID,
		Title:       strings.TrimSpace(u.Title),
		ContentType: blobstore.ContentTypeFor(ext),
		Stage:       models.StageCreated,
	}
	log := o.log.WithFields(logrus.Fields{"record_id": rec.ID, "owner_id": rec.OwnerID})
	key := fmt.Sprintf("users/%s/%s.%s", rec.OwnerID, rec.ID, ext)

	url, err := retry(ctx, o.opts.Retry, log, "upload", func(ctx context.Context) (string, error) {
		if s, ok := u.Body.(io.Seeker); ok {
			if _, err := s.Seek(0, io.SeekStart); err != nil {
				return "", apperr.Internal(err)
			}
		}
		ctx, cancel := withTimeout(ctx, o.opts.UploadTimeout)
		defer cancel()
		url, err := o.blobs.Upload(ctx, key, u.Body, ext, blobstore.AudioFormats)
		return url, timeoutAs(ctx, err, apperr.StorageUnavailable)
	})
	if err != nil {
		log.WithError(err).Warn("upload failed, no record persisted")
		return nil, err
	}

	rec.AudioURL = url
	rec.AudioKey = key
	rec.Stage = models.StageUploaded
	if err := o.records.CreateRecord(ctx, rec); err != nil {
		o.discardBlob(ctx, log, url)
		return nil, err
	}
	if err := o.records.AppendToOwner(ctx, rec.OwnerID, rec.ID); err != nil {
		log.WithError(err).Error("linking record to owner failed, rolling back")
		if derr := o.records.DeleteRecord(ctx, rec.ID); derr != nil {
			log.WithError(derr).Error("rollback of unlinked record failed")
		}
		o.discardBlob(ctx, log, url)
		return nil, err
	}
	log.WithFields(logrus.Fields{"from": models.StageCreated, "to": models.StageUploaded}).Info("record stage changed")

	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		if _, err := o.transcribe(ctx, rec.ID); err != nil {
			log.WithError(err).Warn("background transcription did not complete")
		}
	}()

	return rec, nil
}

func (o *Orchestrator) discardBlob(ctx context.Context, log logrus.FieldLogger, url string) {
	if err := o.blobs.Delete(ctx, url); err != nil {
		log.WithError(err).WithField("audio_url", url).Warn("could not delete orphaned blob")
	}
}

// Wait blocks until every background transcription has finished.
func (o *Orchestrator) Wait() { o.bg.Wait() }

// Get returns the record if ownerID owns it.
func (o *Orchestrator) Get(ctx context.Context, ownerID, id uuid.UUID) (*models.Record, error) {
	rec, err := o.records.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != ownerID {
		return nil, apperr.NotFound("Record")
	}
	return rec, nil
}

func (o *Orchestrator) List(ctx context.Context, ownerID uuid.UUID) ([]models.Record, error) {
	return o.records.ListByOwner(ctx, ownerID)
}

// Transcribe re-runs transcription for an owned record and returns it
// afterwards. Calls for a record already being transcribed join that run.
func (o *Orchestrator) Transcribe(ctx context.Context, ownerID, id uuid.UUID) (*models.Record, error) {
	if _, err := o.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return o.transcribe(context.WithoutCancel(ctx), id)
}

func (o *Orchestrator) transcribe(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	v, err, _ := o.inflight.Do(id.String(), func() (any, error) {
		return o.runTranscription(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Record), nil
}

func (o *Orchestrator) runTranscription(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	rec, err := o.records.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	log := o.log.WithField("record_id", rec.ID)

	ext := strings.TrimPrefix(path.Ext(rec.AudioURL), ".")
	handle, err := retry(ctx, o.opts.Retry, log, "stage", func(ctx context.Context) (*staging.Handle, error) {
		ctx, cancel := withTimeout(ctx, o.opts.FetchTimeout)
		defer cancel()
		body, err := o.blobs.Fetch(ctx, rec.AudioURL)
		if apperr.IsKind(err, apperr.KindNotFound) {
			// The record exists, so a missing object is a storage fault.
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "Stored audio file is missing", err)
		}
		if err != nil {
			return nil, timeoutAs(ctx, err, apperr.StorageUnavailable)
		}
		defer body.Close()
		h, err := o.staging.Stage(ctx, rec.ID.String(), body, ext)
		return h, timeoutAs(ctx, err, apperr.StorageUnavailable)
	})
	if err != nil {
		_ = o.transition(ctx, rec, models.StageFailed, models.FailedStaging, err)
		return nil, err
	}
	defer func() {
		if rerr := handle.Release(); rerr != nil {
			log.WithError(rerr).Warn("staged file not removed")
		}
	}()

	if err := o.transition(ctx, rec, models.StageStaged, "", nil); err != nil {
		return nil, err
	}
	if err := o.transition(ctx, rec, models.StageTranscribing, "", nil); err != nil {
		return nil, err
	}

	text, err := retry(ctx, o.opts.Retry, log, "transcribe", func(ctx context.Context) (string, error) {
		ctx, cancel := withTimeout(ctx, o.opts.TranscriptionTimeout)
		defer cancel()
		text, err := o.transcriber.Transcribe(ctx, handle.Path())
		return text, timeoutAs(ctx, err, apperr.TranscriptionService)
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = apperr.InvalidAudio("no speech was recognized in the recording")
	}
	if err != nil {
		_ = o.transition(ctx, rec, models.StageFailed, models.FailedTranscribe, err)
		return nil, err
	}

	if err := o.records.SetTranscript(ctx, rec.ID, text); err != nil {
		_ = o.transition(ctx, rec, models.StageFailed, models.FailedTranscribe, err)
		return nil, err
	}
	log.WithFields(logrus.Fields{"from": models.StageTranscribing, "to": models.StageTranscribed}).Info("record stage changed")

	return o.records.GetRecord(ctx, rec.ID)
}

// Generate writes new text from the record's transcript, replacing any
// previous generated text. A record without a transcript is left untouched.
func (o *Orchestrator) Generate(ctx context.Context, ownerID, id uuid.UUID) (*models.Record, error) {
	rec, err := o.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !rec.HasTranscript() {
		return nil, apperr.MissingPrompt()
	}

	ctx = context.WithoutCancel(ctx)
	log := o.log.WithField("record_id", rec.ID)
	prompt := *rec.Transcript

	if err := o.transition(ctx, rec, models.StageGenerating, "", nil); err != nil {
		return nil, err
	}

	text, err := retry(ctx, o.opts.Retry, log, "generate", func(ctx context.Context) (string, error) {
		ctx, cancel := withTimeout(ctx, o.opts.GenerationTimeout)
		defer cancel()
		text, err := o.generator.Generate(ctx, prompt)
		return text, timeoutAs(ctx, err, apperr.GenerationService)
	})
	if err != nil {
		_ = o.transition(ctx, rec, models.StageFailed, models.FailedGenerate, err)
		return nil, err
	}

	wt := &models.WrittenText{ID: uuid.New(), Text: text}
	if err := o.records.SetWrittenText(ctx, rec.ID, wt); err != nil {
		_ = o.transition(ctx, rec, models.StageFailed, models.FailedGenerate, err)
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"from":            models.StageGenerating,
		"to":              models.StageGenerated,
		"written_text_id": wt.ID,
	}).Info("record stage changed")

	return o.records.GetRecord(ctx, rec.ID)
}

// Delete soft-deletes an owned record, unlinks it from its owner and removes
// its audio blob. Blob removal failures are logged, not returned.
func (o *Orchestrator) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	rec, err := o.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	return o.purge(ctx, rec)
}

func (o *Orchestrator) purge(ctx context.Context, rec *models.Record) error {
	if err := o.records.DeleteRecord(ctx, rec.ID); err != nil {
		return err
	}
	if err := o.records.RemoveFromOwner(ctx, rec.OwnerID, rec.ID); err != nil {
		return err
	}
	log := o.log.WithField("record_id", rec.ID)
	o.discardBlob(ctx, log, rec.AudioURL)
	log.Info("record deleted")
	return nil
}

// PurgeOwner deletes every record the user owns. It runs before the user row
// itself is removed.
func (o *Orchestrator) PurgeOwner(ctx context.Context, ownerID uuid.UUID) error {
	ctx = context.WithoutCancel(ctx)
	recs, err := o.records.ListByOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	for i := range recs {
		if err := o.purge(ctx, &recs[i]); err != nil {
			return err
		}
	}
	o.log.WithFields(logrus.Fields{"owner_id": ownerID, "records": len(recs)}).Info("owner records purged")
	return nil
}
