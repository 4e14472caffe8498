// Package oauth exchanges provider authorization codes for verified
// external identities.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"campusid.org/internal/config"
	"campusid.org/internal/identity"
)

const defaultUserinfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// Google resolves authorization codes against Google's OAuth endpoints.
type Google struct {
	conf        *oauth2.Config
	userinfoURL string
}

// GoogleOption adjusts endpoint URLs, primarily for tests.
type GoogleOption func(*Google)

func WithEndpoint(ep oauth2.Endpoint) GoogleOption {
	return func(g *Google) { g.conf.Endpoint = ep }
}

func WithUserinfoURL(u string) GoogleOption {
	return func(g *Google) { g.userinfoURL = u }
}

func NewGoogle(cfg config.GoogleConfig, opts ...GoogleOption) *Google {
	g := &Google{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     googleEndpoint,
		},
		userinfoURL: defaultUserinfoURL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AuthURL builds the consent page URL carrying the anti-forgery state.
func (g *Google) AuthURL(state string) string {
	return g.conf.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type userinfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Exchange trades the authorization code for an access token and fetches the
// userinfo claims. The email_verified claim is passed through untouched so
// callers decide how much to trust it.
func (g *Google) Exchange(ctx context.Context, code string) (identity.ExternalIdentity, error) {
	token, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return identity.ExternalIdentity{}, fmt.Errorf("oauth code exchange: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userinfoURL, nil)
	if err != nil {
		return identity.ExternalIdentity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := g.conf.Client(ctx, token).Do(req)
	if err != nil {
		return identity.ExternalIdentity{}, fmt.Errorf("oauth userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return identity.ExternalIdentity{}, fmt.Errorf("oauth userinfo: status %d: %s", resp.StatusCode, body)
	}

	var info userinfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return identity.ExternalIdentity{}, fmt.Errorf("oauth userinfo decode: %w", err)
	}
	if info.Sub == "" || info.Email == "" {
		return identity.ExternalIdentity{}, fmt.Errorf("oauth userinfo: response missing subject or email")
	}

	return identity.ExternalIdentity{
		ExternalID:    info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
		Picture:       info.Picture,
	}, nil
}
