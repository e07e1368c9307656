package streamsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/incidentiq-ai/diagnosis-platform/internal/model"
)

// Replayer fetches the complete, canonically ordered event history for a
// session. The replay response is the source of truth for everything that
// happened during a connection outage.
type Replayer interface {
	Events(ctx context.Context, sessionID string) ([]model.TaskEvent, error)
}

// HTTPReplayer calls the hub's replay endpoint.
type HTTPReplayer struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPReplayer creates a replayer for the given hub base URL.
func NewHTTPReplayer(baseURL, token string) *HTTPReplayer {
	return &HTTPReplayer{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
	}
}

// Events fetches the full event list for the session. Idempotent and safe
// to call repeatedly.
func (r *HTTPReplayer) Events(ctx context.Context, sessionID string) ([]model.TaskEvent, error) {
	u := fmt.Sprintf("%s/api/v1/sessions/%s/events", r.baseURL, url.PathEscape(sessionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create replay request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch replay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("replay request failed: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var list model.ListEventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode replay response: %w", err)
	}
	return list.Events, nil
}
