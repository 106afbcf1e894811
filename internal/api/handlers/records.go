package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rohits-web03/memoscribe/internal/apperr"
	"github.com/rohits-web03/memoscribe/internal/models"
	"github.com/rohits-web03/memoscribe/internal/pipeline"
	"github.com/rohits-web03/memoscribe/internal/utils"
)

// audioFields are the multipart field names accepted for the recording.
var audioFields = []string{"audio", "recordPath"}

type RecordHandler struct {
	Pipeline       Pipeline
	Validate       *validator.Validate
	MaxUploadBytes int64
}

type recordForm struct {
	Title string `validate:"max=200"`
}

type transcriptResponse struct {
	Transcript *string      `json:"transcript"`
	Stage      models.Stage `json:"stage"`
}

// CreateRecord godoc
// @Summary      Upload a voice memo
// @Description  Stores the audio and starts transcription in the background.
// @Tags         records
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        audio  formData  file    true   "Audio file (also accepted as recordPath)"
// @Param        title  formData  string  false  "Title"
// @Success      201    {object}  utils.Payload{data=models.Record}
// @Failure      400    {object}  utils.Payload
// @Failure      503    {object}  utils.Payload
// @Router       /api/v1/records [post]
func (h *RecordHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	uid, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes+(1<<20))
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, apperr.InvalidAudio("audio file is too large"))
			return
		}
		writeError(w, r, apperr.Validation("Invalid multipart body"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := recordForm{Title: r.FormValue("title")}
	if err := validateStruct(h.Validate, form); err != nil {
		writeError(w, r, err)
		return
	}

	var upload *pipeline.Upload
	for _, field := range audioFields {
		file, hdr, err := r.FormFile(field)
		if err != nil {
			continue
		}
		defer file.Close()
		upload = &pipeline.Upload{
			OwnerID:     uid,
			Title:       form.Title,
			Filename:    hdr.Filename,
			ContentType: hdr.Header.Get("Content-Type"),
			Body:        file,
			Size:        hdr.Size,
		}
		break
	}
	if upload == nil {
		writeError(w, r, apperr.Validation("audio file is required"))
		return
	}

	rec, err := h.Pipeline.Submit(r.Context(), *upload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.JSONResponse(w, http.StatusCreated, utils.Payload{Success: true, Message: "Record created", Data: rec})
}

// ListRecords godoc
// @Summary   List the caller's records in upload order
// @Tags      records
// @Produce   json
// @Security  BearerAuth
// @Success   200  {object}  utils.Payload{data=[]models.Record}
// @Router    /api/v1/records [get]
func (h *RecordHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	uid, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	recs, err := h.Pipeline.List(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []models.Record{}
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{Success: true, Message: "Records fetched", Data: recs})
}

// GetRecord godoc
// @Summary   Fetch one record
// @Tags      records
// @Produce   json
// @Security  BearerAuth
// @Param     id   path      string  true  "Record ID"
// @Success   200  {object}  utils.Payload{data=models.Record}
// @Failure   404  {object}  utils.Payload
// @Router    /api/v1/records/{id} [get]
func (h *RecordHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{Success: true, Message: "Record fetched", Data: rec})
}

// GetTranscript godoc
// @Summary      Read the transcript
// @Description  transcript is null until transcription has completed.
// @Tags         records
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Record ID"
// @Success      200  {object}  utils.Payload{data=transcriptResponse}
// @Failure      404  {object}  utils.Payload
// @Router       /api/v1/records/{id}/transcript [get]
func (h *RecordHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Transcript fetched",
		Data:    transcriptResponse{Transcript: rec.Transcript, Stage: rec.Stage},
	})
}

// Transcribe godoc
// @Summary   Re-run transcription and wait for the result
// @Tags      records
// @Produce   json
// @Security  BearerAuth
// @Param     id   path      string  true  "Record ID"
// @Success   200  {object}  utils.Payload{data=models.Record}
// @Failure   400  {object}  utils.Payload
// @Failure   502  {object}  utils.Payload
// @Router    /api/v1/records/{id}/transcribe [post]
func (h *RecordHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.Pipeline.Transcribe, "Record transcribed")
}

// Generate godoc
// @Summary   Generate written text from the transcript
// @Tags      records
// @Produce   json
// @Security  BearerAuth
// @Param     id   path      string  true  "Record ID"
// @Success   200  {object}  utils.Payload{data=models.Record}
// @Failure   400  {object}  utils.Payload
// @Failure   502  {object}  utils.Payload
// @Failure   503  {object}  utils.Payload
// @Router    /api/v1/records/{id}/generate [post]
func (h *RecordHandler) Generate(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.Pipeline.Generate, "Written text generated")
}

// DeleteRecord godoc
// @Summary   Delete a record and its audio
// @Tags      records
// @Produce   json
// @Security  BearerAuth
// @Param     id   path      string  true  "Record ID"
// @Success   200  {object}  utils.Payload
// @Failure   404  {object}  utils.Payload
// @Router    /api/v1/records/{id} [delete]
func (h *RecordHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	uid, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Pipeline.Delete(r.Context(), uid, id); err != nil {
		writeError(w, r, err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{Success: true, Message: "Record deleted"})
}

func (h *RecordHandler) load(w http.ResponseWriter, r *http.Request) (*models.Record, bool) {
	uid, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	rec, err := h.Pipeline.Get(r.Context(), uid, id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return rec, true
}

type recordAction func(ctx context.Context, ownerID, id uuid.UUID) (*models.Record, error)

func (h *RecordHandler) run(w http.ResponseWriter, r *http.Request, action recordAction, message string) {
	uid, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := action(r.Context(), uid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{Success: true, Message: message, Data: rec})
}
