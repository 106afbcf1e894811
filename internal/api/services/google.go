package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rohits-web03/memoscribe/internal/apperr"
	"github.com/rohits-web03/memoscribe/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type GoogleUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// GoogleOAuth runs the authorization code flow against Google and resolves
// the signed-in account.
type GoogleOAuth struct {
	Config      *oauth2.Config
	UserInfoURL string
}

func NewGoogleOAuth(cfg config.GoogleConfig) *GoogleOAuth {
	return &GoogleOAuth{
		Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		UserInfoURL: GoogleUserInfoURL,
	}
}

func (g *GoogleOAuth) Enabled() bool {
	return g != nil && g.Config.ClientID != "" && g.Config.ClientSecret != ""
}

func (g *GoogleOAuth) AuthCodeURL(state string) string {
	return g.Config.AuthCodeURL(state)
}

// Authenticate exchanges code for a token and fetches the user's profile.
func (g *GoogleOAuth) Authenticate(ctx context.Context, code string) (*GoogleUser, error) {
	token, err := g.Config.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuth, "Code exchange failed", err)
	}

	client := g.Config.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.UserInfoURL, nil)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuth, "Failed to get user info", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuth, "Failed to get user info", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Wrap(apperr.KindAuth, "Failed to get user info",
			fmt.Errorf("userinfo http %d: %s", resp.StatusCode, data))
	}

	var user GoogleUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, apperr.Wrap(apperr.KindAuth, "Failed to parse user info", err)
	}
	if user.Email == "" {
		return nil, apperr.Unauthorized("Google account has no email")
	}
	return &user, nil
}
