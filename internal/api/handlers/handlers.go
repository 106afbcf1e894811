package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rohits-web03/memoscribe/internal/api/middleware"
	"github.com/rohits-web03/memoscribe/internal/apperr"
	"github.com/rohits-web03/memoscribe/internal/blobstore"
	"github.com/rohits-web03/memoscribe/internal/models"
	"github.com/rohits-web03/memoscribe/internal/pipeline"
	"github.com/rohits-web03/memoscribe/internal/utils"
)

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	SetProfileImage(ctx context.Context, id uuid.UUID, url string) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

type Pipeline interface {
	Submit(ctx context.Context, u pipeline.Upload) (*models.Record, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*models.Record, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]models.Record, error)
	Transcribe(ctx context.Context, ownerID, id uuid.UUID) (*models.Record, error)
	Generate(ctx context.Context, ownerID, id uuid.UUID) (*models.Record, error)
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
	PurgeOwner(ctx context.Context, ownerID uuid.UUID) error
}

type BlobUploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentHint string, formats blobstore.FormatSet) (string, error)
}

// writeError logs server-side failures with their cause and sends the
// public part of err.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if status := apperr.HTTPStatus(err); status >= 500 {
		middleware.LoggerFrom(r.Context()).WithError(err).WithField("kind", apperr.KindOf(err)).Error("request error")
	}
	utils.ErrorResponse(w, err)
}

// decodeJSON reads a single JSON object into dst and validates it.
func decodeJSON(r *http.Request, v *validator.Validate, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("Invalid input")
	}
	return validateStruct(v, dst)
}

func validateStruct(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
		}
		return apperr.Validation("Invalid input: " + strings.Join(msgs, ", "))
	}
	return apperr.Validation("Invalid input")
}

// currentUser returns the authenticated caller's id.
func currentUser(r *http.Request) (uuid.UUID, error) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		return uuid.Nil, apperr.Unauthorized("")
	}
	uid, err := uuid.Parse(id.UserID)
	if err != nil {
		return uuid.Nil, apperr.Unauthorized("Invalid token")
	}
	return uid, nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apperr.NotFound("Record")
	}
	return id, nil
}
