package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hypervideo/client-simulator/internal/common/simerrors"
	"github.com/hypervideo/client-simulator/internal/simulator/configuration"
)

// SessionCookieName is the cookie under which the conferencing service
// expects the session token, both on API calls and inside a rendering
// surface.
const SessionCookieName = "hyper_session"

// AuthClient creates and checks guest sessions against the conferencing
// service.
type AuthClient interface {
	GuestLogin(ctx context.Context, username string) (*Credential, error)
	Validate(ctx context.Context, credential *Credential) (bool, error)
}

type HttpAuthClient struct {
	baseUrl    string
	httpClient *http.Client
}

func NewHttpAuthClient(config configuration.AuthConfig) *HttpAuthClient {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HttpAuthClient{
		baseUrl:    strings.TrimSuffix(config.BaseUrl, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GuestLogin creates a fresh guest session and sets its display name. The
// two calls the service expects are POST /api/v1/auth/guest, which answers
// with a session cookie, and PUT /api/v1/auth/me/name within that session.
func (c *HttpAuthClient) GuestLogin(ctx context.Context, username string) (*Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+"/api/v1/auth/guest", nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &simerrors.ErrUnreachable{Endpoint: c.baseUrl, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &simerrors.ErrCredential{
			Username: username,
			Message:  fmt.Sprintf("guest login returned status %d", resp.StatusCode),
		}
	}

	session := sessionFromCookies(resp.Cookies())
	if session == "" {
		return nil, &simerrors.ErrCredential{
			Username: username,
			Message:  fmt.Sprintf("guest login response carried no %s cookie", SessionCookieName),
		}
	}

	credential := &Credential{
		Username:      username,
		SessionCookie: session,
		Created:       time.Now().UTC(),
	}
	if err := c.setDisplayName(ctx, credential); err != nil {
		return nil, err
	}
	return credential, nil
}

func (c *HttpAuthClient) setDisplayName(ctx context.Context, credential *Credential) error {
	body, err := json.Marshal(map[string]string{"name": credential.Username})
	if err != nil {
		return errors.WithStack(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseUrl+"/api/v1/auth/me/name", bytes.NewReader(body))
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(sessionCookie(credential))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &simerrors.ErrUnreachable{Endpoint: c.baseUrl, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &simerrors.ErrCredential{
			Username: credential.Username,
			Message:  fmt.Sprintf("setting display name returned status %d", resp.StatusCode),
		}
	}
	return nil
}

// Validate reports whether the service still accepts the session. A 401 or
// 403 means the session expired and is not an error.
func (c *HttpAuthClient) Validate(ctx context.Context, credential *Credential) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseUrl+"/api/v1/auth/me", nil)
	if err != nil {
		return false, errors.WithStack(err)
	}
	req.AddCookie(sessionCookie(credential))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, &simerrors.ErrUnreachable{Endpoint: c.baseUrl, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	default:
		return false, &simerrors.ErrUnreachable{
			Endpoint: c.baseUrl,
			Message:  fmt.Sprintf("session check returned status %d", resp.StatusCode),
		}
	}
}

func sessionCookie(credential *Credential) *http.Cookie {
	return &http.Cookie{Name: SessionCookieName, Value: credential.SessionCookie}
}

func sessionFromCookies(cookies []*http.Cookie) string {
	for _, cookie := range cookies {
		if cookie.Name == SessionCookieName {
			return cookie.Value
		}
	}
	return ""
}
