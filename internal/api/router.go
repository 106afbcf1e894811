package api

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	_ "github.com/rohits-web03/memoscribe/docs"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/rohits-web03/memoscribe/internal/api/handlers"
	"github.com/rohits-web03/memoscribe/internal/api/middleware"
	"github.com/rohits-web03/memoscribe/internal/auth"
	"github.com/rohits-web03/memoscribe/internal/config"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

type Deps struct {
	Config   config.Config
	Log      logrus.FieldLogger
	Users    handlers.UserStore
	Pipeline handlers.Pipeline
	Blobs    handlers.BlobUploader
	Tokens   *auth.TokenIssuer
	Hasher   *auth.PasswordHasher
	Google   handlers.GoogleAuthenticator
}

func SetupRouter(d Deps) http.Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	requireAuth := middleware.Auth(d.Tokens, d.Users)

	authHandler := &handlers.AuthHandler{
		Users:       d.Users,
		Tokens:      d.Tokens,
		Hasher:      d.Hasher,
		Google:      d.Google,
		Validate:    validate,
		FrontendURL: d.Config.FrontendURL,
		Production:  d.Config.IsProduction(),
	}
	userHandler := &handlers.UserHandler{
		Users:    d.Users,
		Pipeline: d.Pipeline,
		Blobs:    d.Blobs,
	}
	recordHandler := &handlers.RecordHandler{
		Pipeline:       d.Pipeline,
		Validate:       validate,
		MaxUploadBytes: d.Config.Pipeline.MaxUploadBytes,
	}

	mainMux := http.NewServeMux()

	// ---------- PUBLIC ROUTES ----------
	mainMux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	mainMux.HandleFunc("/docs/", httpSwagger.WrapHandler)

	authMux := http.NewServeMux()
	authMux.HandleFunc("POST /sign-up", authHandler.RegisterUser)
	authMux.HandleFunc("POST /login", authHandler.LoginUser)
	authMux.HandleFunc("GET /google/login", authHandler.HandleGoogleLogin)
	authMux.HandleFunc("GET /google/callback", authHandler.HandleGoogleCallback)
	authMux.Handle("GET /verify", requireAuth(http.HandlerFunc(authHandler.Verify)))
	authMux.Handle("POST /logout", requireAuth(http.HandlerFunc(authHandler.Logout)))

	mainMux.Handle("/api/v1/auth/",
		http.StripPrefix("/api/v1/auth", authMux),
	)

	// ---------- PROTECTED ROUTES ----------
	protectedMux := http.NewServeMux()

	protectedMux.HandleFunc("GET /users/me", userHandler.Me)
	protectedMux.HandleFunc("DELETE /users/me", userHandler.DeleteMe)
	protectedMux.HandleFunc("PUT /users/me/avatar", userHandler.UploadAvatar)

	protectedMux.HandleFunc("POST /records", recordHandler.CreateRecord)
	protectedMux.HandleFunc("GET /records", recordHandler.ListRecords)
	protectedMux.HandleFunc("GET /records/{id}", recordHandler.GetRecord)
	protectedMux.HandleFunc("DELETE /records/{id}", recordHandler.DeleteRecord)
	protectedMux.HandleFunc("GET /records/{id}/transcript", recordHandler.GetTranscript)
	protectedMux.HandleFunc("POST /records/{id}/transcribe", recordHandler.Transcribe)
	protectedMux.HandleFunc("POST /records/{id}/generate", recordHandler.Generate)

	mainMux.Handle("/api/v1/",
		http.StripPrefix(
			"/api/v1",
			requireAuth(protectedMux),
		),
	)

	d.Log.Info("Router initialized")
	c := cors.New(d.Config.CorsConfig)
	handler := c.Handler(mainMux)
	handler = middleware.Logger(d.Log)(handler)
	return handler
}
