package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/suteetoe/payroll/pkg/apperror"
	"github.com/suteetoe/payroll/pkg/logger"
	"go.uber.org/zap"
)

// Status is the account state shown next to a reviewer
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusUnknown   Status = "UNKNOWN"
)

// Profile is the identity provider's view of a principal
type Profile struct {
	ID           string
	Email        string
	DisplayName  string
	IsBanned     bool
	LastSignInAt *time.Time
}

// Status derives the account state from the ban flag
func (p *Profile) Status() Status {
	if p == nil {
		return StatusUnknown
	}
	if p.IsBanned {
		return StatusSuspended
	}
	return StatusActive
}

// Source looks up principals. Lookups fail independently per id.
type Source interface {
	GetPrincipal(ctx context.Context, id string) (*Profile, error)
}

// adminUser is the payload returned by the auth admin API
type adminUser struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	BannedUntil  *time.Time `json:"banned_until,omitempty"`
	LastSignInAt *time.Time `json:"last_sign_in_at,omitempty"`
	UserMetadata struct {
		FullNames string `json:"full_names"`
		UserName  string `json:"user_name"`
	} `json:"user_metadata"`
}

// ErrorResponse represents an auth admin API error
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// Client calls the hosted auth platform's admin API with the service key
type Client struct {
	BaseURL    string
	ServiceKey string
	HTTPClient *http.Client
	now        func() time.Time
}

// NewClient creates a new admin API client
func NewClient(baseURL, serviceKey string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ServiceKey: serviceKey,
		HTTPClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// GetPrincipal fetches a single user by id
func (c *Client) GetPrincipal(ctx context.Context, id string) (*Profile, error) {
	log := logger.FromContext(ctx)

	if id == "" {
		return nil, fmt.Errorf("%w: principal id is required", apperror.ErrValidation)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/admin/users/%s", c.BaseURL, url.PathEscape(id)), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build identity request: %w", apperror.ErrDependency, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.ServiceKey)
	req.Header.Set("apikey", c.ServiceKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Warn("Identity request failed", zap.String("user_id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: identity request: %w", apperror.ErrDependency, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read identity response: %w", apperror.ErrDependency, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp ErrorResponse
		_ = json.Unmarshal(body, &errorResp)
		log.Warn("Identity lookup returned error status",
			zap.String("user_id", id),
			zap.Int("status", resp.StatusCode),
			zap.String("message", errorResp.Message))
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: principal %s", apperror.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: identity lookup: status %d", apperror.ErrDependency, resp.StatusCode)
	}

	var user adminUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("%w: decode identity response: %w", apperror.ErrDependency, err)
	}

	displayName := user.UserMetadata.FullNames
	if displayName == "" {
		displayName = user.UserMetadata.UserName
	}

	return &Profile{
		ID:           user.ID,
		Email:        user.Email,
		DisplayName:  displayName,
		IsBanned:     user.BannedUntil != nil && user.BannedUntil.After(c.now()),
		LastSignInAt: user.LastSignInAt,
	}, nil
}
