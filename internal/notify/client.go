package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// API is the slice of the REST collaborator this core consumes.
type API interface {
	FetchMine(ctx context.Context, token string) ([]ServerNotification, error)
	MarkAllRead(ctx context.Context, token string) error
}

// APIClient talks to the portal backend's notification endpoints.
type APIClient struct {
	logger  *slog.Logger
	baseURL string
	httpc   *http.Client
}

func NewAPIClient(logger *slog.Logger, baseURL string) *APIClient {
	return &APIClient{
		logger:  logger.With(slog.String("component", "notify_api")),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

type fetchResponse struct {
	Success        bool                 `json:"success"`
	Notificaciones []ServerNotification `json:"notificaciones"`
}

// FetchMine retrieves the caller's persisted notification history.
func (c *APIClient) FetchMine(ctx context.Context, token string) ([]ServerNotification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/notificaciones/mis-notificaciones", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req, token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch notifications: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var decoded fetchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("fetch notifications: %w", err)
	}
	if !decoded.Success {
		return nil, fmt.Errorf("fetch notifications: server reported failure")
	}
	return decoded.Notificaciones, nil
}

// MarkAllRead tells the server every notification was seen. Best
// effort; the caller already applied the change locally.
func (c *APIClient) MarkAllRead(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/notificaciones/marcar-todas-leidas", nil)
	if err != nil {
		return err
	}
	c.authorize(req, token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mark all read: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *APIClient) authorize(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Cache-Control", "no-cache")
}
