package roomclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/cooldown-chess/internal/apperr"
	"github.com/park285/cooldown-chess/internal/board"
	"github.com/park285/cooldown-chess/internal/chat"
	"github.com/park285/cooldown-chess/internal/room"
)

// HeaderProvider allows injecting per-request headers.
type HeaderProvider func() map[string]string

// Client talks to the room HTTP surface.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

// WithRetry bounds attempts for idempotent reads.
func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx answer decoded from the server's error envelope.
// It unwraps to an apperr sentinel with the same kind and code, so
// errors.Is(err, room.ErrSlotOccupied) works on the client side too.
type APIError struct {
	Status       int    `json:"-"`
	Message      string `json:"error"`
	Code         string `json:"code"`
	Kind         string `json:"kind"`
	RetryAfterMs int64  `json:"retryAfterMs"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("room api error: status=%d code=%s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return apperr.New(kindFromString(e.Kind), e.Code, e.Message)
}

// RetryAfter is the server's hint for cooldown rejections.
func (e *APIError) RetryAfter() time.Duration {
	return time.Duration(e.RetryAfterMs) * time.Millisecond
}

func kindFromString(s string) apperr.Kind {
	for _, k := range []apperr.Kind{apperr.NotFound, apperr.Conflict, apperr.Validation} {
		if k.String() == s {
			return k
		}
	}
	return apperr.StoreFailure
}

type Health struct {
	Status         string `json:"status"`
	Time           string `json:"time"`
	PollIntervalMs int64  `json:"pollIntervalMs"`
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/healthz", nil, &h, true); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) ListRooms(ctx context.Context) ([]*room.Room, error) {
	var out []*room.Room
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/rooms", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetRoom(ctx context.Context, id string) (*room.Room, error) {
	var r room.Room
	if err := c.doJSON(ctx, fasthttp.MethodGet, roomPath(id), nil, &r, true); err != nil {
		return nil, err
	}
	return &r, nil
}

type CreateRequest struct {
	Config    *room.Config `json:"config,omitempty"`
	IsPrivate bool         `json:"isPrivate"`
	AccessKey string       `json:"accessKey,omitempty"`
}

func (c *Client) CreateRoom(ctx context.Context, req CreateRequest) (*room.Room, error) {
	var r room.Room
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/rooms", req, &r, false); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Join(ctx context.Context, id string, color board.Color, p room.Player, accessKey string) (*room.Room, error) {
	body := map[string]any{"color": color, "player": p}
	if accessKey != "" {
		body["accessKey"] = accessKey
	}
	return c.roomCall(ctx, fasthttp.MethodPost, roomPath(id)+"/join", body)
}

// Move submits a move in coordinate notation, e.g. "e2e4".
func (c *Client) Move(ctx context.Context, id string, color board.Color, notation string) (*room.Room, error) {
	return c.roomCall(ctx, fasthttp.MethodPost, roomPath(id)+"/moves", map[string]any{"color": color, "notation": notation})
}

func (c *Client) MoveSquares(ctx context.Context, id string, color board.Color, from, to board.Square) (*room.Room, error) {
	return c.roomCall(ctx, fasthttp.MethodPost, roomPath(id)+"/moves", map[string]any{"color": color, "from": from, "to": to})
}

// EndGame records a result. An empty winner means a draw.
func (c *Client) EndGame(ctx context.Context, id string, winner board.Color, method string) (*room.Room, error) {
	body := map[string]any{"outcome": room.ResultDraw, "method": method}
	if winner != "" {
		body["winner"] = winner
		body["outcome"] = room.ResultVictory
	}
	return c.roomCall(ctx, fasthttp.MethodPost, roomPath(id)+"/end", body)
}

func (c *Client) OfferRematch(ctx context.Context, id string, color board.Color) (*room.Room, error) {
	return c.roomCall(ctx, fasthttp.MethodPost, roomPath(id)+"/rematch", map[string]any{"color": color})
}

// RespondRematch answers an offer. On acceptance next is the successor room.
func (c *Client) RespondRematch(ctx context.Context, id string, accepted bool) (cur, next *room.Room, err error) {
	var out struct {
		Room *room.Room `json:"room"`
		Next *room.Room `json:"next"`
	}
	if err := c.doJSON(ctx, fasthttp.MethodPost, roomPath(id)+"/rematch/respond", map[string]any{"accepted": accepted}, &out, false); err != nil {
		return nil, nil, err
	}
	return out.Room, out.Next, nil
}

func (c *Client) SetPresence(ctx context.Context, id string, color board.Color, disconnected bool) (*room.Room, error) {
	return c.roomCall(ctx, fasthttp.MethodPost, roomPath(id)+"/presence", map[string]any{"color": color, "disconnected": disconnected})
}

// Patch overwrites top-level room fields.
func (c *Client) Patch(ctx context.Context, id string, fields map[string]any) (*room.Room, error) {
	return c.roomCall(ctx, fasthttp.MethodPut, roomPath(id), fields)
}

func (c *Client) DeleteRoom(ctx context.Context, id string) error {
	return c.doJSON(ctx, fasthttp.MethodDelete, roomPath(id), nil, nil, false)
}

func (c *Client) Messages(ctx context.Context, id string) ([]chat.Message, error) {
	var out []chat.Message
	if err := c.doJSON(ctx, fasthttp.MethodGet, roomPath(id)+"/messages", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PostMessage(ctx context.Context, id string, m chat.Message) (*chat.Message, error) {
	var out chat.Message
	if err := c.doJSON(ctx, fasthttp.MethodPost, roomPath(id)+"/messages", m, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) roomCall(ctx context.Context, method, path string, body any) (*room.Room, error) {
	var r room.Room
	if err := c.doJSON(ctx, method, path, body, &r, false); err != nil {
		return nil, err
	}
	return &r, nil
}

func roomPath(id string) string { return "/rooms/" + url.PathEscape(strings.TrimSpace(id)) }

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")

	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry {
		attempts = c.retryMax
		if attempts <= 0 {
			attempts = 1
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			if attempt == attempts {
				return fmt.Errorf("request failed: %w", err)
			}
			lastErr = err
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			apiErr := decodeAPIError(status, resp.Body())
			if attempt == attempts || !shouldRetryStatus(status) {
				return apiErr
			}
			lastErr = apiErr
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func decodeAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	if err := json.Unmarshal(body, e); err != nil || e.Code == "" {
		e.Message = truncate(string(body), 512)
		e.Code = "http_" + fmt.Sprint(status)
		if e.Kind == "" {
			e.Kind = apperr.StoreFailure.String()
		}
	}
	return e
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
