package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rohits-web03/memoscribe/internal/apperr"
	"github.com/rohits-web03/memoscribe/internal/blobstore"
	"github.com/rohits-web03/memoscribe/internal/logger"
	"github.com/rohits-web03/memoscribe/internal/models"
	"github.com/rohits-web03/memoscribe/internal/repositories"
	"github.com/rohits-web03/memoscribe/internal/staging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBlobs struct {
	mu         sync.Mutex
	objects    map[string][]byte
	uploadErrs []error
	fetchErrs  []error
	uploads    int
	deleted    []string
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (m *memBlobs) Upload(_ context.Context, key string, body io.Reader, hint string, formats blobstore.FormatSet) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	if _, err := formats.Validate(hint); err != nil {
		return "", err
	}
	if err := pop(&m.uploadErrs); err != nil {
		return "", err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	url := "https://blobs.test/memoscribe/" + key
	m.objects[url] = data
	return url, nil
}

func (m *memBlobs) Fetch(_ context.Context, url string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := pop(&m.fetchErrs); err != nil {
		return nil, err
	}
	data, ok := m.objects[url]
	if !ok {
		return nil, apperr.NotFound("Blob")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlobs) Delete(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, url)
	m.deleted = append(m.deleted, url)
	return nil
}

type result struct {
	text string
	err  error
}

// scripted replays results in order and then keeps returning fallback.
type scripted struct {
	mu       sync.Mutex
	results  []result
	fallback string
	calls    int
	prompts  []string
}

func (s *scripted) next(input string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prompts = append(s.prompts, input)
	if len(s.results) == 0 {
		return s.fallback, nil
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.text, r.err
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type scriptedTranscriber struct{ *scripted }

func (s scriptedTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", apperr.InvalidAudio("staged file missing")
	}
	return s.next(path)
}

type scriptedGenerator struct{ *scripted }

func (s scriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	return s.next(prompt)
}

type harness struct {
	orch        *Orchestrator
	records     *repositories.RecordRepository
	users       *repositories.UserRepository
	blobs       *memBlobs
	transcriber *scripted
	generator   *scripted
	stageDir    string
	owner       uuid.UUID
}

// failingRecords fails the final transcript or written text write.
type failingRecords struct {
	*repositories.RecordRepository
	err error
}

func (f failingRecords) SetTranscript(context.Context, uuid.UUID, string) error { return f.err }

func (f failingRecords) SetWrittenText(context.Context, uuid.UUID, *models.WrittenText) error {
	return f.err
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith builds a harness whose orchestrator sees the record store
// returned by wrap.
func newHarnessWith(t *testing.T, wrap func(*repositories.RecordRepository) RecordStore) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := repositories.ConnectDatabase("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	dir := t.TempDir()
	area, err := staging.NewArea(dir)
	require.NoError(t, err)

	h := &harness{
		records:     repositories.NewRecordRepository(db),
		users:       repositories.NewUserRepository(db),
		blobs:       newMemBlobs(),
		transcriber: &scripted{fallback: "hello world"},
		generator:   &scripted{fallback: "Hello, world."},
		stageDir:    dir,
	}

	opts := DefaultOptions()
	opts.Retry = RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, Multiplier: 4}

	var store RecordStore = h.records
	if wrap != nil {
		store = wrap(h.records)
	}
	h.orch = New(Deps{
		Records:     store,
		Blobs:       h.blobs,
		Staging:     area,
		Transcriber: scriptedTranscriber{h.transcriber},
		Generator:   scriptedGenerator{h.generator},
		Log:         logger.Discard(),
	}, opts)

	u := &models.User{Email: uuid.NewString() + "@example.com", Password: "hash"}
	require.NoError(t, h.users.CreateUser(context.Background(), u))
	h.owner = u.ID
	return h
}

func (h *harness) submit(t *testing.T, title string) *models.Record {
	t.Helper()
	rec, err := h.orch.Submit(context.Background(), Upload{
		OwnerID:     h.owner,
		Title:       title,
		Filename:    "sample.wav",
		ContentType: "audio/wav",
		Body:        strings.NewReader("RIFF fake wav"),
	})
	require.NoError(t, err)
	return rec
}

func (h *harness) assertStagingEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.stageDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubmit_TranscribesInBackground(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.submit(t, " memo1 ")
	assert.Equal(t, "memo1", rec.Title)
	assert.Equal(t, models.StageUploaded, rec.Stage)
	assert.True(t, strings.HasSuffix(rec.AudioURL, rec.ID.String()+".wav"))

	h.orch.Wait()

	got, err := h.orch.Get(ctx, h.owner, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Transcript)
	assert.Equal(t, "hello world", *got.Transcript)
	assert.Equal(t, models.StageTranscribed, got.Stage)

	u, err := h.users.FindByID(ctx, h.owner)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{rec.ID}, u.Records)
	h.assertStagingEmpty(t)
}

func TestTranscribe_RetriesProviderFaults(t *testing.T) {
	h := newHarness(t)
	h.transcriber.results = []result{
		{err: apperr.TranscriptionService(fmt.Errorf("503"))},
		{err: apperr.TranscriptionService(fmt.Errorf("503"))},
		{text: "third time lucky"},
	}

	rec := h.submit(t, "memo")
	h.orch.Wait()

	got, err := h.records.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Transcript)
	assert.Equal(t, "third time lucky", *got.Transcript)
	assert.Equal(t, 3, h.transcriber.Calls())
	h.assertStagingEmpty(t)
}

func TestTranscribe_ExhaustedRetriesFailWithoutTranscript(t *testing.T) {
	h := newHarness(t)
	fault := result{err: apperr.TranscriptionService(fmt.Errorf("503"))}
	h.transcriber.results = []result{fault, fault, fault, fault, fault, fault}
	ctx := context.Background()

	rec := h.submit(t, "memo")
	h.orch.Wait()
	assert.Equal(t, 3, h.transcriber.Calls())

	got, err := h.records.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Transcript)
	assert.Equal(t, models.StageFailed, got.Stage)
	assert.Equal(t, models.FailedTranscribe, got.FailedStage)
	assert.NotEmpty(t, got.FailureReason)

	_, err = h.orch.Transcribe(ctx, h.owner, rec.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindTranscriptionService))
	assert.Equal(t, 502, apperr.HTTPStatus(err))
	h.assertStagingEmpty(t)
}

func TestTranscribe_InvalidAudioIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.transcriber.results = []result{{err: apperr.InvalidAudio("corrupt container")}}

	rec := h.submit(t, "memo")
	h.orch.Wait()

	assert.Equal(t, 1, h.transcriber.Calls())
	got, err := h.records.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, got.Stage)
	assert.Nil(t, got.Transcript)
}

func TestTranscribe_ReRunOverwrites(t *testing.T) {
	h := newHarness(t)
	h.transcriber.results = []result{{text: "first"}, {text: "second"}}
	ctx := context.Background()

	rec := h.submit(t, "memo")
	h.orch.Wait()

	got, err := h.orch.Transcribe(ctx, h.owner, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", *got.Transcript)
}

func TestTranscribe_FailedReRunKeepsPriorTranscript(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.submit(t, "memo")
	h.orch.Wait()

	h.transcriber.results = []result{{err: apperr.InvalidAudio("corrupt")}}
	_, err := h.orch.Transcribe(ctx, h.owner, rec.ID)
	require.Error(t, err)

	got, err := h.records.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Transcript)
	assert.Equal(t, "hello world", *got.Transcript)
	assert.Equal(t, models.StageFailed, got.Stage)
}

func TestTranscribe_StagingFetchRetried(t *testing.T) {
	h := newHarness(t)
	h.blobs.fetchErrs = []error{apperr.StorageUnavailable(fmt.Errorf("reset"))}

	rec := h.submit(t, "memo")
	h.orch.Wait()

	got, err := h.records.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageTranscribed, got.Stage)
}

func TestSubmit_StorageUnavailableLeavesNoRecord(t *testing.T) {
	h := newHarness(t)
	down := apperr.StorageUnavailable(fmt.Errorf("dial tcp: refused"))
	h.blobs.uploadErrs = []error{down, down, down}
	ctx := context.Background()

	_, err := h.orch.Submit(ctx, Upload{
		OwnerID:  h.owner,
		Filename: "sample.wav",
		Body:     io.NopCloser(strings.NewReader("RIFF")),
	})
	assert.True(t, apperr.IsKind(err, apperr.KindStorageUnavailable))
	assert.Equal(t, 3, h.blobs.uploads)

	recs, err := h.orch.List(ctx, h.owner)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Zero(t, h.transcriber.Calls())
}

func TestSubmit_RetriedUploadSendsWholeBody(t *testing.T) {
	h := newHarness(t)
	h.blobs.uploadErrs = []error{apperr.StorageUnavailable(fmt.Errorf("timeout"))}

	rec, err := h.orch.Submit(context.Background(), Upload{
		OwnerID:  h.owner,
		Filename: "memo.mp3",
		Body:     io.NopCloser(strings.NewReader("ID3 audio")),
	})
	require.NoError(t, err)
	h.orch.Wait()

	assert.Equal(t, 2, h.blobs.uploads)
	assert.Equal(t, "ID3 audio", string(h.blobs.objects[rec.AudioURL]))
}

func TestSubmit_RejectsUnsupportedFormat(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Submit(context.Background(), Upload{
		OwnerID:     h.owner,
		Filename:    "notes.txt",
		ContentType: "text/plain",
		Body:        strings.NewReader("hi"),
	})
	assert.True(t, apperr.IsKind(err, apperr.KindUnsupportedFormat))
	assert.Zero(t, h.blobs.uploads)
}

func TestSubmit_ConcurrentUploadsKeepBothRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 2)
	errs := make([]error, 2)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := h.orch.Submit(ctx, Upload{
				OwnerID:  h.owner,
				Filename: fmt.Sprintf("memo-%d.wav", i),
				Body:     strings.NewReader("RIFF"),
			})
			errs[i] = err
			if err == nil {
				ids[i] = rec.ID
			}
		}(i)
	}
	wg.Wait()
	h.orch.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	u, err := h.users.FindByID(ctx, h.owner)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, u.Records)
}

func TestGenerate_MissingTranscriptLeavesRecordUntouched(t *testing.T) {
	h := newHarness(t)
	h.transcriber.results = []result{{err: apperr.InvalidAudio("silence")}}
	ctx := context.Background()

	rec := h.submit(t, "memo")
	h.orch.Wait()
	before, err := h.records.GetRecord(ctx, rec.ID)
	require.NoError(t, err)

	_, err = h.orch.Generate(ctx, h.owner, rec.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindMissingPrompt))
	assert.Equal(t, 400, apperr.HTTPStatus(err))
	assert.Zero(t, h.generator.Calls())

	after, err := h.records.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Stage, after.Stage)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Nil(t, after.WrittenText)
}

func TestGenerate_OverwritesPreviousText(t *testing.T) {
	h := newHarness(t)
	h.generator.results = []result{{text: "one"}, {text: "two"}}
	ctx := context.Background()

	rec := h.submit(t, "memo")
	h.orch.Wait()

	first, err := h.orch.Generate(ctx, h.owner, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, first.WrittenText)
	assert.Equal(t, "one", first.WrittenText.Text)

	second, err := h.orch.Generate(ctx, h.owner, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, second.WrittenText)
	assert.Equal(t, "two", second.WrittenText.Text)
	assert.NotEqual(t, first.WrittenText.ID, second.WrittenText.ID)
	assert.Equal(t, models.StageGenerated, second.Stage)
	assert.Equal(t, []string{"hello world", "hello world"}, h.generator.prompts)
}

func TestGenerate_RateLimitIsRetried(t *testing.T) {
	h := newHarness(t)
	h.generator.results = []result{{err: apperr.RateLimited(5*time.Millisecond, fmt.Errorf("429"))}}
	ctx := context.Background()

	rec := h.submit(t, "memo")
	h.orch.Wait()

	got, err := h.orch.Generate(ctx, h.owner, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world.", got.WrittenText.Text)
	assert.Equal(t, 2, h.generator.Calls())
}

func TestGenerate_ProviderDownMarksFailed(t *testing.T) {
	h := newHarness(t)
	down := result{err: apperr.GenerationService(fmt.Errorf("500"))}
	h.generator.results = []result{down, down, down}
	ctx := context.Background()

	rec := h.submit(t, "memo")
	h.orch.Wait()

	_, err := h.orch.Generate(ctx, h.owner, rec.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindGenerationService))

	got, err := h.records.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, got.Stage)
	assert.Equal(t, models.FailedGenerate, got.FailedStage)
	assert.Nil(t, got.WrittenText)
	require.NotNil(t, got.Transcript)
}

func TestOwnership_OtherUsersSeeNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.submit(t, "memo")
	h.orch.Wait()

	stranger := uuid.New()
	_, err := h.orch.Get(ctx, stranger, rec.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	_, err = h.orch.Generate(ctx, stranger, rec.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	assert.True(t, apperr.IsKind(h.orch.Delete(ctx, stranger, rec.ID), apperr.KindNotFound))
}

func TestDelete_UnlinksAndPurgesBlob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.submit(t, "memo")
	h.orch.Wait()

	require.NoError(t, h.orch.Delete(ctx, h.owner, rec.ID))

	_, err := h.orch.Get(ctx, h.owner, rec.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	assert.Equal(t, []string{rec.AudioURL}, h.blobs.deleted)

	u, err := h.users.FindByID(ctx, h.owner)
	require.NoError(t, err)
	assert.Empty(t, u.Records)
}

func TestPurgeOwner_RemovesEveryRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.submit(t, "a")
	h.submit(t, "b")
	h.orch.Wait()

	require.NoError(t, h.orch.PurgeOwner(ctx, h.owner))

	recs, err := h.orch.List(ctx, h.owner)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Len(t, h.blobs.deleted, 2)
}

func TestTranscribe_LostTranscriptWriteMarksFailed(t *testing.T) {
	h := newHarnessWith(t, func(r *repositories.RecordRepository) RecordStore {
		return failingRecords{RecordRepository: r, err: apperr.Internal(fmt.Errorf("disk full"))}
	})

	rec := h.submit(t, "memo")
	h.orch.Wait()

	got, err := h.records.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, got.Stage)
	assert.Equal(t, models.FailedTranscribe, got.FailedStage)
	assert.Nil(t, got.Transcript)
	h.assertStagingEmpty(t)
}

func TestGenerate_LostWrittenTextWriteMarksFailed(t *testing.T) {
	h := newHarnessWith(t, func(r *repositories.RecordRepository) RecordStore {
		return failingRecords{RecordRepository: r, err: apperr.Internal(fmt.Errorf("disk full"))}
	})
	ctx := context.Background()

	rec := h.submit(t, "memo")
	h.orch.Wait()
	require.NoError(t, h.records.SetTranscript(ctx, rec.ID, "hello world"))

	_, err := h.orch.Generate(ctx, h.owner, rec.ID)
	require.Error(t, err)

	got, err := h.records.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, got.Stage)
	assert.Equal(t, models.FailedGenerate, got.FailedStage)
	assert.Nil(t, got.WrittenText)
}

func TestTranscribe_MissingBlobIsStorageFault(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.submit(t, "memo")
	h.orch.Wait()
	h.blobs.mu.Lock()
	delete(h.blobs.objects, rec.AudioURL)
	h.blobs.mu.Unlock()

	_, err := h.orch.Transcribe(ctx, h.owner, rec.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindStorageUnavailable))
	assert.Equal(t, 503, apperr.HTTPStatus(err))

	got, err := h.records.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, got.Stage)
	assert.Equal(t, models.FailedStaging, got.FailedStage)
	require.NotNil(t, got.Transcript)
	assert.Equal(t, "hello world", *got.Transcript)
}
