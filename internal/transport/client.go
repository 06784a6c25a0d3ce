package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"orbit-chat/internal/model"
	"orbit-chat/pkg/logger"
)

// ErrTransport wraps any network or HTTP failure of the streaming
// endpoint, as opposed to a caller-initiated cancellation which
// surfaces as context.Canceled.
var ErrTransport = errors.New("transport error")

const (
	chatPath    = "/v1/chat"
	stopPath    = "/v1/chat/stop"
	threadsPath = "/v1/threads"
	sessionPath = "/v1/sessions/"

	// Audio frames arrive base64-encoded on a single line and can run
	// to megabytes.
	maxFrameSize = 16 << 20
)

// Client talks to one ORBIT backend. It opens exactly one HTTP request
// per turn and never retries; failures are the caller's to handle.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			// No overall timeout: a turn streams for as long as the
			// backend generates. Cancellation comes from the request
			// context.
			Timeout: 0,
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeout,
			},
		},
	}
}

// Stream POSTs one turn and yields its frames as decoded StreamEvents.
// The event channel closes when the stream ends for any reason; the
// error channel then carries at most one error. Cancelling ctx stops
// the stream and yields ctx's error, which callers are expected to
// treat as expected shutdown rather than failure.
func (c *Client) Stream(ctx context.Context, sessionID string, req model.ChatRequest) (<-chan model.StreamEvent, <-chan error) {
	events := make(chan model.StreamEvent, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errCh)

		body, err := json.Marshal(req)
		if err != nil {
			errCh <- fmt.Errorf("%w: encode request: %v", ErrTransport, err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
		if err != nil {
			errCh <- fmt.Errorf("%w: %v", ErrTransport, err)
			return
		}
		c.setHeaders(httpReq, sessionID)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			errCh <- c.classify(ctx, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			errCh <- fmt.Errorf("%w: server returned %d: %s", ErrTransport, resp.StatusCode, bytes.TrimSpace(detail))
			return
		}

		if err := c.readFrames(ctx, resp.Body, events); err != nil {
			errCh <- err
		}
	}()

	return events, errCh
}

// readFrames consumes newline-delimited JSON frames, tolerating the SSE
// framing the backend uses ("data: " prefixes, blank lines, [DONE]).
func (c *Client) readFrames(ctx context.Context, body io.Reader, events chan<- model.StreamEvent) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		// Cooperative cancellation between reads.
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "data: ")
		if line == "" || line == "[DONE]" {
			continue
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			logger.Debugf("transport: skipping unparseable frame: %v", err)
			continue
		}

		for _, ev := range frame.events() {
			select {
			case events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if frame.Done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return c.classify(ctx, err)
	}
	// EOF without a done frame: the connection dropped mid-stream.
	return fmt.Errorf("%w: stream ended without done frame", ErrTransport)
}

// classify separates caller-initiated cancellation from real failures.
func (c *Client) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// StopGeneration asks the backend to abandon an in-flight generation.
// Best effort: errors are logged and dropped.
func (c *Client) StopGeneration(sessionID, requestID string) {
	body, _ := json.Marshal(model.StopRequest{SessionID: sessionID, RequestID: requestID})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+stopPath, bytes.NewReader(body))
	if err != nil {
		return
	}
	c.setHeaders(req, sessionID)

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Debugf("transport: stop-generation request failed: %v", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
}

// CreateThread asks the backend to branch a sub-conversation off the
// given message and returns the thread identifiers it assigned.
func (c *Client) CreateThread(ctx context.Context, messageID, sessionID string) (model.ThreadInfo, error) {
	body, err := json.Marshal(model.CreateThreadRequest{MessageID: messageID, SessionID: sessionID})
	if err != nil {
		return model.ThreadInfo{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+threadsPath, bytes.NewReader(body))
	if err != nil {
		return model.ThreadInfo{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	c.setHeaders(req, sessionID)

	resp, err := c.http.Do(req)
	if err != nil {
		return model.ThreadInfo{}, c.classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.ThreadInfo{}, fmt.Errorf("%w: thread creation returned %d", ErrTransport, resp.StatusCode)
	}

	var info model.ThreadInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return model.ThreadInfo{}, fmt.Errorf("%w: decode thread info: %v", ErrTransport, err)
	}
	return info, nil
}

// DeleteSession drops the backend-side context for a conversation that
// was deleted locally.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+sessionPath+sessionID, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	c.setHeaders(req, sessionID)

	resp, err := c.http.Do(req)
	if err != nil {
		return c.classify(ctx, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: session delete returned %d", ErrTransport, resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, sessionID string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", sessionID)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}
