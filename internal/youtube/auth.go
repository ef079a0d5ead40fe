// Package youtube uploads videos to YouTube through the Data API v3
// resumable upload protocol, with OAuth2 credentials managed via
// golang.org/x/oauth2. Errors are normalized into the model classification
// at this boundary; quota responses are distinguished so the transfer
// engine can apply its longer quota backoff.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/stepyndriyy/yadisk-to-youtube/internal/model"
)

// UploadScope is the only OAuth scope the transfer needs.
const UploadScope = "https://www.googleapis.com/auth/youtube.upload"

// clientSecretsFile mirrors the client_secret.json downloaded from the
// Google Cloud Console for an installed application.
type clientSecretsFile struct {
	Installed *clientSecrets `json:"installed"`
	Web       *clientSecrets `json:"web"`
}

type clientSecrets struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURIs []string `json:"redirect_uris"`
}

// LoadOAuthConfig reads a client_secret.json and builds the oauth2.Config
// used for both the consent flow and token refresh.
func LoadOAuthConfig(path string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.Classified(model.ClassPermanentRun,
			fmt.Errorf("client secrets file not found: %s (download client_secret.json from the Google Cloud Console): %w", path, err))
	}
	var f clientSecretsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, model.Classified(model.ClassPermanentRun, fmt.Errorf("parse %s: %w", path, err))
	}
	cs := f.Installed
	if cs == nil {
		cs = f.Web
	}
	if cs == nil || cs.ClientID == "" {
		return nil, model.ClassifiedF(model.ClassPermanentRun, "%s has no installed-app credentials", path)
	}

	redirect := "urn:ietf:wg:oauth:2.0:oob"
	if len(cs.RedirectURIs) > 0 {
		redirect = cs.RedirectURIs[0]
	}
	return &oauth2.Config{
		ClientID:     cs.ClientID,
		ClientSecret: cs.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirect,
		Scopes:       []string{UploadScope},
	}, nil
}

// LoadToken reads a cached OAuth token.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token file %s: %w", path, err)
	}
	return &tok, nil
}

// SaveToken writes the token with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0600)
}

// AuthCodeURL returns the consent URL the operator opens in a browser.
func AuthCodeURL(cfg *oauth2.Config) string {
	return cfg.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeAndSave trades an authorization code for a token and caches it.
func ExchangeAndSave(ctx context.Context, cfg *oauth2.Config, code, tokenPath string) error {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return model.Classified(model.ClassPermanentRun, fmt.Errorf("exchange authorization code: %w", err))
	}
	if err := SaveToken(tokenPath, tok); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// persistingSource wraps a TokenSource and writes refreshed tokens back to
// the cache file so the next run skips the refresh round-trip.
type persistingSource struct {
	src  oauth2.TokenSource
	path string
	last string // last persisted access token
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != p.last {
		if err := SaveToken(p.path, tok); err == nil {
			p.last = tok.AccessToken
		}
		// A failed cache write is not fatal; the token is still valid.
	}
	return tok, nil
}

// TokenSource builds an auto-refreshing, self-persisting token source from
// the cached token file. A missing or unusable token is a permanent-run
// error: without a destination credential no item can be processed, and the
// operator must run the consent flow (--auth-url / --auth-code).
func TokenSource(ctx context.Context, cfg *oauth2.Config, tokenPath string) (oauth2.TokenSource, error) {
	tok, err := LoadToken(tokenPath)
	if err != nil {
		return nil, model.Classified(model.ClassPermanentRun,
			fmt.Errorf("no cached YouTube token at %s (run with --auth-url, then --auth-code): %w", tokenPath, err))
	}
	src := &persistingSource{
		src:  cfg.TokenSource(ctx, tok),
		path: tokenPath,
		last: tok.AccessToken,
	}
	// Verify the credential is usable before any item is processed.
	if _, err := src.Token(); err != nil {
		return nil, model.Classified(model.ClassPermanentRun,
			fmt.Errorf("refresh YouTube token: %w", err))
	}
	return src, nil
}
