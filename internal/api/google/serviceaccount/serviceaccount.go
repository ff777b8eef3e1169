// Package serviceaccount implements the two-legged OAuth flow for Google
// service accounts: a key file signs a JWT assertion, which the token
// endpoint exchanges for a short-lived access token.
//
// See https://developers.google.com/identity/protocols/oauth2/service-account.
package serviceaccount

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"macrolog/internal/request"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeSpreadsheets grants read and write access to Google Sheets.
const ScopeSpreadsheets = "https://www.googleapis.com/auth/spreadsheets"

// LoadKey parses a service account key file in JSON form. The private key
// stays as PEM text and is only parsed when a token is requested, so a key
// with a malformed PEM block loads fine and fails on first use.
func LoadKey(b []byte) (*Key, error) {
	var key Key
	if err := json.Unmarshal(b, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// Key is the content of a service account key file.
type Key struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	ClientID     string `json:"client_id"`
	AuthURI      string `json:"auth_uri"`
	TokenURI     string `json:"token_uri"`
}

// AccessToken exchanges a signed JWT assertion for an access token limited
// to the given scopes. The token is valid for one hour; callers that talk to
// an API repeatedly should cache it.
func (k *Key) AccessToken(ctx context.Context, client *http.Client, scopes ...string) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(k.PrivateKey))
	if err != nil {
		return "", err
	}

	now := time.Now()
	sig, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   k.ClientEmail,
		"sub":   k.ClientEmail,
		"aud":   k.TokenURI,
		"scope": strings.Join(scopes, " "),
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}).SignedString(key)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Add("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	params.Add("assertion", sig)

	type response struct {
		AccessToken string `json:"access_token"`
	}

	tok, err := request.Make[response](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        k.TokenURI,
		Body:       params,
		HTTPClient: client,
	})
	if err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}
