package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/phuongtg/spark-cloud-go/pkg/errors"
	"github.com/phuongtg/spark-cloud-go/pkg/version"
)

// TokenPath is the OAuth token endpoint path.
const TokenPath = "/oauth/token"

// Default OAuth client credentials used by the cloud's public SDKs.
const (
	DefaultClientID     = "particle"
	DefaultClientSecret = "particle"
)

// OAuthConfig configures OAuthRefresher.
type OAuthConfig struct {
	// BaseURL is the API root, e.g. "https://api.particle.io".
	BaseURL string

	// ClientID and ClientSecret authenticate the client (HTTP basic auth).
	ClientID     string
	ClientSecret string

	// HTTPClient performs the request. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// tokenResponse is the OAuth token endpoint response.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// OAuthRefresher returns a RefreshFunc performing the
// grant_type=refresh_token exchange against {BaseURL}/oauth/token.
func OAuthRefresher(cfg OAuthConfig) RefreshFunc {
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
		cfg.ClientSecret = DefaultClientSecret
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	endpoint := strings.TrimRight(cfg.BaseURL, "/") + TokenPath

	return func(ctx context.Context, refreshToken string) (Grant, error) {
		if refreshToken == "" {
			return Grant{}, errors.NewAuthError(0, "no refresh token available")
		}

		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", refreshToken)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return Grant{}, fmt.Errorf("build token request: %w", err)
		}
		req.SetBasicAuth(cfg.ClientID, cfg.ClientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())

		start := time.Now()
		resp, err := cfg.HTTPClient.Do(req)
		if err != nil {
			return Grant{}, errors.NewConnectionError("refresh", endpoint, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err != nil {
			return Grant{}, errors.NewConnectionError("refresh", endpoint, err)
		}

		var tr tokenResponse
		if len(body) > 0 {
			if err := json.Unmarshal(body, &tr); err != nil && resp.StatusCode == http.StatusOK {
				return Grant{}, fmt.Errorf("decode token response: %w", err)
			}
		}

		if resp.StatusCode != http.StatusOK {
			msg := tr.ErrorDescription
			if msg == "" {
				msg = tr.Error
			}
			if msg == "" {
				msg = http.StatusText(resp.StatusCode)
			}
			// 400 invalid_grant means the refresh token itself was revoked.
			if resp.StatusCode == http.StatusBadRequest || errors.IsAuthStatus(resp.StatusCode) {
				return Grant{}, errors.NewAuthError(resp.StatusCode, msg)
			}
			return Grant{}, &errors.APIError{
				StatusCode:  resp.StatusCode,
				Code:        tr.Error,
				Description: msg,
				Endpoint:    endpoint,
			}
		}

		grant := Grant{
			Credential:   Credential{AccessToken: tr.AccessToken},
			RefreshToken: tr.RefreshToken,
		}
		if tr.ExpiresIn > 0 {
			grant.ExpiresAt = start.Add(time.Duration(tr.ExpiresIn) * time.Second)
		}
		return grant, nil
	}
}
