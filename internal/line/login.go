package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"estimate_backend/platform/config"

	"github.com/golang-jwt/jwt/v5"
)

const lineIssuer = "https://access.line.me"

var (
	ErrLoginDisabled     = errors.New("line login is not configured")
	ErrInvalidIDToken    = errors.New("line id token rejected")
	ErrCodeExchangeFails = errors.New("line code exchange failed")
)

// LoginClient performs the LINE Login authorization-code round trip.
type LoginClient struct {
	channelID     string
	channelSecret string
	redirectURL   string
	apiBaseURL    string
	authorizeURL  string
	timeout       time.Duration
	http          *http.Client
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	Scope       string `json:"scope"`
}

type idTokenClaims struct {
	Nonce string `json:"nonce,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// NewLoginClient returns nil when no login channel is configured.
func NewLoginClient(cfg config.LoginConfig) *LoginClient {
	if cfg.GetLineLoginChannelID() == "" {
		return nil
	}
	timeout := cfg.GetOAuthTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LoginClient{
		channelID:     cfg.GetLineLoginChannelID(),
		channelSecret: cfg.GetLineLoginChannelSecret(),
		redirectURL:   cfg.GetLineLoginRedirectURL(),
		apiBaseURL:    strings.TrimRight(cfg.GetLineLoginAPIBaseURL(), "/"),
		authorizeURL:  cfg.GetLineLoginAuthorizeURL(),
		timeout:       timeout,
		http:          &http.Client{},
	}
}

// AuthorizeURL builds the login redirect. bot_prompt asks the user to add the official
// account, which produces the follow event.
func (c *LoginClient) AuthorizeURL(state, nonce string) (string, error) {
	if c == nil {
		return "", ErrLoginDisabled
	}
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.channelID)
	q.Set("redirect_uri", c.redirectURL)
	q.Set("state", state)
	q.Set("scope", "profile openid")
	q.Set("bot_prompt", "aggressive")
	if nonce != "" {
		q.Set("nonce", nonce)
	}
	return c.authorizeURL + "?" + q.Encode(), nil
}

// ExchangeAndVerify trades an authorization code for an ID token and returns the verified
// LINE user id. The whole round trip is bounded by the configured timeout.
func (c *LoginClient) ExchangeAndVerify(ctx context.Context, code, nonce string) (string, error) {
	if c == nil {
		return "", ErrLoginDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.redirectURL)
	form.Set("client_id", c.channelID)
	form.Set("client_secret", c.channelSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/oauth2/v2.1/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCodeExchangeFails, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: status %d: %s", ErrCodeExchangeFails, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("%w: decode token response: %w", ErrCodeExchangeFails, err)
	}

	return c.verifyIDToken(tok.IDToken, nonce)
}

func (c *LoginClient) verifyIDToken(raw, nonce string) (string, error) {
	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(c.channelSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(lineIssuer),
		jwt.WithAudience(c.channelID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidIDToken, err)
	}
	if nonce != "" && claims.Nonce != nonce {
		return "", fmt.Errorf("%w: nonce mismatch", ErrInvalidIDToken)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidIDToken)
	}
	return claims.Subject, nil
}
