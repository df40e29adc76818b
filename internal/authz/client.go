// Package authz talks to the remote authorization server that holds the
// endpoint-level permission grants derived from assignment rows.
package authz

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/meridian-platform/capsync/internal/endpoints"
)

// PermissionAPI is the grant/revoke surface consumed by the assignment
// services and the reconciler. Both calls are idempotent from the
// caller's perspective: granting an already-granted endpoint or revoking
// an already-revoked one is success.
type PermissionAPI interface {
	CreatePermissions(ctx context.Context, principalID uuid.UUID, eps []endpoints.Endpoint) error
	DeletePermissions(ctx context.Context, principalID uuid.UUID, eps []endpoints.Endpoint) error
}

// RemoteError is a non-2xx response from the authorization server.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("authz: remote api error: status=%d %s", e.StatusCode, e.Message)
}

// Retryable reports whether the caller's retry policy should retry:
// 5xx is transient, 4xx is terminal.
func (e *RemoteError) Retryable() bool {
	return e.StatusCode >= 500
}

// Client is an HTTP client for the authorization server's permission API.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient constructs a Client for the given base URL. Transport-level
// retries cover connection failures only; HTTP status handling stays
// with the caller per the error classification above.
func NewClient(baseURL, apiToken string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiToken != "" {
		httpClient.SetAuthToken(apiToken)
	}
	return &Client{http: httpClient, logger: logger}
}

type permissionRequest struct {
	Endpoints []endpoints.Endpoint `json:"endpoints"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// CreatePermissions grants the endpoints to the principal. A conflict
// (already granted server-side) is success.
func (c *Client) CreatePermissions(ctx context.Context, principalID uuid.UUID, eps []endpoints.Endpoint) error {
	if len(eps) == 0 {
		return nil
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(permissionRequest{Endpoints: eps}).
		SetError(&errorResponse{}).
		Post(fmt.Sprintf("/principals/%s/permissions", principalID))
	if err != nil {
		return fmt.Errorf("authz: create permissions: %w", err)
	}
	if resp.IsSuccess() || resp.StatusCode() == http.StatusConflict {
		c.logger.Debug("permissions granted",
			slog.String("principal_id", principalID.String()),
			slog.Int("endpoints", len(eps)))
		return nil
	}
	return c.remoteError(resp)
}

// DeletePermissions revokes the endpoints from the principal. A missing
// grant server-side (404) is success.
func (c *Client) DeletePermissions(ctx context.Context, principalID uuid.UUID, eps []endpoints.Endpoint) error {
	if len(eps) == 0 {
		return nil
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(permissionRequest{Endpoints: eps}).
		SetError(&errorResponse{}).
		Delete(fmt.Sprintf("/principals/%s/permissions", principalID))
	if err != nil {
		return fmt.Errorf("authz: delete permissions: %w", err)
	}
	if resp.IsSuccess() || resp.StatusCode() == http.StatusNotFound {
		c.logger.Debug("permissions revoked",
			slog.String("principal_id", principalID.String()),
			slog.Int("endpoints", len(eps)))
		return nil
	}
	return c.remoteError(resp)
}

func (c *Client) remoteError(resp *resty.Response) error {
	message := ""
	if body, ok := resp.Error().(*errorResponse); ok && body != nil {
		message = body.Message
	}
	return &RemoteError{StatusCode: resp.StatusCode(), Message: message}
}
