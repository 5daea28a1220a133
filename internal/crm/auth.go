// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package crm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"
)

// TokenStore persists OAuth tokens per location.
type TokenStore interface {
	Load(ctx context.Context, locationID string) (*oauth2.Token, error)
	Save(ctx context.Context, locationID string, tok *oauth2.Token) error
}

// OAuthConfig builds the oauth2 configuration for a LeadConnector
// marketplace app. The token endpoint expects client credentials in the
// form body.
func OAuthConfig(baseURL, clientID, clientSecret, redirectURL string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://marketplace.leadconnectorhq.com/oauth/chooselocation",
			TokenURL:  baseURL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Authenticator hands out access tokens for one location and refreshes
// them through the token endpoint, persisting every new token.
type Authenticator struct {
	mu         sync.Mutex
	oauth      *oauth2.Config
	store      TokenStore
	locationID string
	token      *oauth2.Token

	// OnRefresh, if set, is called after each successful refresh.
	OnRefresh func()
}

// NewAuthenticator creates an authenticator for locationID.
func NewAuthenticator(oauth *oauth2.Config, store TokenStore, locationID string) *Authenticator {
	return &Authenticator{
		oauth:      oauth,
		store:      store,
		locationID: locationID,
	}
}

// Token returns a usable access token, refreshing it if it has expired.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token == nil {
		tok, err := a.store.Load(ctx, a.locationID)
		if err != nil {
			return "", fmt.Errorf("load token: %w", err)
		}
		if tok == nil {
			return "", fmt.Errorf("%w: %s", ErrNoCredentials, a.locationID)
		}
		a.token = tok
	}

	if !a.token.Valid() {
		if err := a.refreshLocked(ctx); err != nil {
			return "", err
		}
	}
	return a.token.AccessToken, nil
}

// Refresh forces a token refresh regardless of the stored expiry. Used when
// the CRM rejects a token it should have accepted.
func (a *Authenticator) Refresh(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token == nil {
		tok, err := a.store.Load(ctx, a.locationID)
		if err != nil {
			return "", fmt.Errorf("load token: %w", err)
		}
		if tok == nil {
			return "", fmt.Errorf("%w: %s", ErrNoCredentials, a.locationID)
		}
		a.token = tok
	}

	if err := a.refreshLocked(ctx); err != nil {
		return "", err
	}
	return a.token.AccessToken, nil
}

func (a *Authenticator) refreshLocked(ctx context.Context) error {
	if a.token.RefreshToken == "" {
		return fmt.Errorf("refresh token: no refresh token for location %s", a.locationID)
	}

	// An empty access token forces the oauth2 source to hit the endpoint.
	src := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: a.token.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = a.token.RefreshToken
	}

	if err := a.store.Save(ctx, a.locationID, tok); err != nil {
		// The new token is still usable for this process.
		slog.Error("failed to persist refreshed token",
			"location", a.locationID,
			"error", err,
		)
	}
	a.token = tok

	slog.Info("crm access token refreshed",
		"location", a.locationID,
		"expiry", tok.Expiry,
	)
	if a.OnRefresh != nil {
		a.OnRefresh()
	}
	return nil
}
