package streamsync

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Conn is one physical live-channel connection. Recv blocks until the next
// raw frame arrives and returns an error when the connection drops.
type Conn interface {
	Recv() ([]byte, error)
	Close() error
}

// Transport opens live-channel connections for a session. The client logic
// is transport-agnostic; tests supply an in-memory implementation.
type Transport interface {
	Open(ctx context.Context, sessionID string) (Conn, error)
}

// SSETransport consumes the hub's Server-Sent Events stream endpoint.
type SSETransport struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewSSETransport creates a transport for the given hub base URL. The token
// is optional; when set it is sent as a bearer credential.
func NewSSETransport(baseURL, token string) *SSETransport {
	return &SSETransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
	}
}

// Open connects to the session's stream endpoint. The returned Conn is tied
// to ctx: canceling it unblocks Recv.
func (t *SSETransport) Open(ctx context.Context, sessionID string) (Conn, error) {
	u := fmt.Sprintf("%s/api/v1/sessions/%s/stream", t.baseURL, url.PathEscape(sessionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("stream request failed: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 2*1024*1024)

	return &sseConn{body: resp.Body, scanner: scanner}, nil
}

// sseConn parses the SSE wire format into raw JSON frames. Event names are
// not used for routing; the JSON envelope is self-describing.
type sseConn struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (c *sseConn) Recv() ([]byte, error) {
	var dataLines []string

	for c.scanner.Scan() {
		line := c.scanner.Text()

		if line == "" {
			if len(dataLines) == 0 {
				continue
			}
			return []byte(strings.Join(dataLines, "\n")), nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			part := strings.TrimPrefix(line, "data:")
			part = strings.TrimPrefix(part, " ")
			dataLines = append(dataLines, part)
		}
		// "event:" and other fields are ignored.
	}

	if err := c.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	return nil, io.EOF
}

func (c *sseConn) Close() error {
	return c.body.Close()
}
