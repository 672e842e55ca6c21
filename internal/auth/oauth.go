package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleUser is the portion of Google's userinfo response we care about.
type GoogleUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// GoogleProvider wraps golang.org/x/oauth2 for the Google Authorization Code
// flow.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. Redirect the user to Google with our ClientID and requested scopes.
//  2. The user approves (or denies) on Google.
//  3. Google redirects back to CallbackURL with a short-lived "code".
//  4. We exchange the code for an access token (server-to-server).
//  5. We call the userinfo endpoint with that token.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewGoogleProvider creates a GoogleProvider.
//
// callbackURL must match an "Authorized redirect URI" of the OAuth client
// exactly. Example: "http://localhost:8080/auth/google/callback"
func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
}

// AuthURL returns the URL to redirect the user to for authorization.
// state is echoed back on the callback and checked against a cookie (CSRF).
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for the Google profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*GoogleUser, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	// The returned client adds "Authorization: Bearer <token>" to every request.
	client := p.config.Client(ctx, oauthToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building userinfo request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling Google userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: Google userinfo returned status %d", resp.StatusCode)
	}

	var gUser GoogleUser
	if err := json.NewDecoder(resp.Body).Decode(&gUser); err != nil {
		return nil, fmt.Errorf("auth: decoding Google userinfo: %w", err)
	}

	gUser.Email = strings.TrimSpace(gUser.Email)
	if gUser.Email == "" {
		return nil, fmt.Errorf("auth: Google returned a profile without an email")
	}
	if !gUser.VerifiedEmail {
		return nil, fmt.Errorf("auth: Google email %s is not verified", gUser.Email)
	}

	return &gUser, nil
}
