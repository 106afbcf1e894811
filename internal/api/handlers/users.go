package handlers

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rohits-web03/memoscribe/internal/api/middleware"
	"github.com/rohits-web03/memoscribe/internal/apperr"
	"github.com/rohits-web03/memoscribe/internal/blobstore"
	"github.com/rohits-web03/memoscribe/internal/utils"
)

const maxAvatarBytes = 5 << 20

type UserHandler struct {
	Users    UserStore
	Pipeline Pipeline
	Blobs    BlobUploader
}

// Me godoc
// @Summary   Current user with its ordered record ids
// @Tags      users
// @Produce   json
// @Security  BearerAuth
// @Success   200  {object}  utils.Payload{data=models.User}
// @Failure   401  {object}  utils.Payload
// @Router    /api/v1/users/me [get]
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.Users.FindByID(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{Success: true, Message: "User fetched", Data: user})
}

// UploadAvatar godoc
// @Summary   Replace the profile image
// @Tags      users
// @Accept    multipart/form-data
// @Produce   json
// @Security  BearerAuth
// @Param     image  formData  file  true  "jpg or png image"
// @Success   200    {object}  utils.Payload{data=models.User}
// @Failure   400    {object}  utils.Payload
// @Failure   503    {object}  utils.Payload
// @Router    /api/v1/users/me/avatar [put]
func (h *UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	uid, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes+(1<<20))
	if err := r.ParseMultipartForm(maxAvatarBytes); err != nil {
		writeError(w, r, apperr.Validation("Invalid multipart body"))
		return
	}
	file, hdr, err := r.FormFile("image")
	if err != nil {
		writeError(w, r, apperr.Validation("image file is required"))
		return
	}
	defer file.Close()

	hint := hdr.Header.Get("Content-Type")
	if _, err := blobstore.ImageFormats.Validate(hint); err != nil {
		hint = hdr.Filename
	}
	ext, err := blobstore.ImageFormats.Validate(hint)
	if err != nil {
		writeError(w, r, err)
		return
	}

	key := fmt.Sprintf("users/%s/avatar-%s.%s", uid, uuid.NewString(), ext)
	url, err := h.Blobs.Upload(r.Context(), key, file, ext, blobstore.ImageFormats)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Users.SetProfileImage(r.Context(), uid, url); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.Users.FindByID(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{Success: true, Message: "Profile image updated", Data: user})
}

// DeleteMe godoc
// @Summary   Delete the account and every record it owns
// @Tags      users
// @Produce   json
// @Security  BearerAuth
// @Success   200  {object}  utils.Payload
// @Router    /api/v1/users/me [delete]
func (h *UserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	uid, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Pipeline.PurgeOwner(r.Context(), uid); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Users.DeleteUser(r.Context(), uid); err != nil {
		writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: middleware.TokenCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	utils.JSONResponse(w, http.StatusOK, utils.Payload{Success: true, Message: "Account deleted"})
}
