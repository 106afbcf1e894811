package handlers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rohits-web03/memoscribe/internal/api/middleware"
	"github.com/rohits-web03/memoscribe/internal/api/services"
	"github.com/rohits-web03/memoscribe/internal/apperr"
	"github.com/rohits-web03/memoscribe/internal/auth"
	"github.com/rohits-web03/memoscribe/internal/models"
	"github.com/rohits-web03/memoscribe/internal/utils"
)

const stateCookie = "oauthstate"

type GoogleAuthenticator interface {
	Enabled() bool
	AuthCodeURL(state string) string
	Authenticate(ctx context.Context, code string) (*services.GoogleUser, error)
}

type AuthHandler struct {
	Users       UserStore
	Tokens      *auth.TokenIssuer
	Hasher      *auth.PasswordHasher
	Google      GoogleAuthenticator
	Validate    *validator.Validate
	FrontendURL string
	Production  bool
}

type signUpInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AuthToken string `json:"authToken"`
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, token string) {
	sameSite := http.SameSiteLaxMode
	if h.Production {
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.Tokens.TTL().Seconds()),
		Secure:   h.Production,
		HttpOnly: true,
		SameSite: sameSite,
	})
}

// RegisterUser godoc
// @Summary  Create an account
// @Tags     auth
// @Accept   json
// @Produce  json
// @Param    body  body      signUpInput  true  "Credentials"
// @Success  201   {object}  utils.Payload{data=models.User}
// @Failure  400   {object}  utils.Payload
// @Failure  409   {object}  utils.Payload
// @Router   /api/v1/auth/sign-up [post]
func (h *AuthHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var input signUpInput
	if err := decodeJSON(r, h.Validate, &input); err != nil {
		writeError(w, r, err)
		return
	}

	hashed, err := h.Hasher.Hash(input.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	user := &models.User{Email: input.Email, Password: hashed}
	if err := h.Users.CreateUser(r.Context(), user); err != nil {
		writeError(w, r, err)
		return
	}

	utils.JSONResponse(w, http.StatusCreated, utils.Payload{
		Success: true,
		Message: "User registered successfully",
		Data:    user,
	})
}

// LoginUser godoc
// @Summary  Log in with email and password
// @Tags     auth
// @Accept   json
// @Produce  json
// @Param    body  body      loginInput  true  "Credentials"
// @Success  200   {object}  utils.Payload{data=tokenResponse}
// @Failure  401   {object}  utils.Payload
// @Router   /api/v1/auth/login [post]
func (h *AuthHandler) LoginUser(w http.ResponseWriter, r *http.Request) {
	var input loginInput
	if err := decodeJSON(r, h.Validate, &input); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.Users.FindByEmail(r.Context(), input.Email)
	if apperr.IsKind(err, apperr.KindNotFound) || (err == nil && !h.Hasher.Compare(user.Password, input.Password)) {
		writeError(w, r, apperr.Unauthorized("Invalid credentials"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, err := h.Tokens.IssueToken(user.ID.String(), user.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.setTokenCookie(w, token)

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Login successful",
		Data:    tokenResponse{AuthToken: token},
	})
}

// Verify godoc
// @Summary   Return the identity behind the caller's token
// @Tags      auth
// @Produce   json
// @Security  BearerAuth
// @Success   200  {object}  utils.Payload{data=auth.Identity}
// @Failure   401  {object}  utils.Payload
// @Router    /api/v1/auth/verify [get]
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, apperr.Unauthorized(""))
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Token is valid",
		Data:    id,
	})
}

// Logout godoc
// @Summary  Clear the session cookie
// @Tags     auth
// @Produce  json
// @Success  200  {object}  utils.Payload
// @Router   /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   h.Production,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Logged out successfully",
	})
}

func (h *AuthHandler) frontendRedirect(w http.ResponseWriter, r *http.Request, path string, query url.Values) {
	target := h.FrontendURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// HandleGoogleLogin godoc
// @Summary  Start Google sign-in
// @Tags     auth
// @Param    redirect  query  string  false  "login or register"
// @Success  307  {string}  string  "redirect"
// @Router   /api/v1/auth/google/login [get]
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.Google == nil || !h.Google.Enabled() {
		writeError(w, r, apperr.NotFound("Google sign-in"))
		return
	}

	redirectType := r.URL.Query().Get("redirect")
	if redirectType != "register" {
		redirectType = "login"
	}

	state, err := GenerateState(map[string]string{"flow": redirectType})
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		Secure:   h.Production,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.Google.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback godoc
// @Summary  Finish Google sign-in and set the session cookie
// @Tags     auth
// @Param    state  query  string  true  "OAuth state"
// @Param    code   query  string  true  "Authorization code"
// @Success  307  {string}  string  "redirect"
// @Router   /api/v1/auth/google/callback [get]
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.Google == nil || !h.Google.Enabled() {
		writeError(w, r, apperr.NotFound("Google sign-in"))
		return
	}

	state := r.FormValue("state")
	stored, _ := r.Cookie(stateCookie)
	if stored == nil || !stateMatches(state, stored.Value) {
		writeError(w, r, apperr.Validation("Invalid OAuth state"))
		return
	}
	stateData, err := DecodeState(state)
	if err != nil {
		writeError(w, r, apperr.Validation("Invalid OAuth state"))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	flowType := stateData["flow"]
	ctx := r.Context()

	googleUser, err := h.Google.Authenticate(ctx, r.FormValue("code"))
	if err != nil {
		middleware.LoggerFrom(ctx).WithError(err).Warn("google sign-in failed")
		h.frontendRedirect(w, r, "/login", url.Values{"error": {"google_failed"}})
		return
	}

	user, err := h.Users.FindByEmail(ctx, googleUser.Email)
	switch {
	case flowType == "register" && err == nil:
		h.frontendRedirect(w, r, "/login", url.Values{"error": {"user_already_exists"}})
		return
	case flowType == "register" && apperr.IsKind(err, apperr.KindNotFound):
		user = &models.User{Email: googleUser.Email}
		if googleUser.Picture != "" {
			user.ProfileImageURL = &googleUser.Picture
		}
		if err := h.Users.CreateUser(ctx, user); err != nil {
			writeError(w, r, err)
			return
		}
	case apperr.IsKind(err, apperr.KindNotFound):
		h.frontendRedirect(w, r, "/register", url.Values{"error": {"user_not_found"}})
		return
	case err != nil:
		writeError(w, r, err)
		return
	}

	token, err := h.Tokens.IssueToken(user.ID.String(), user.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.setTokenCookie(w, token)

	status := "success_login"
	if flowType == "register" {
		status = "success_register"
	}
	h.frontendRedirect(w, r, "/records", url.Values{"status": {status}})
}
