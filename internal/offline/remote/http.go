package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

const (
	// DefaultTimeout bounds a single call to the authority.
	DefaultTimeout = 15 * time.Second
	// DefaultPerPage is the page size used by List.
	DefaultPerPage = 200
	// DefaultRateLimit is the sustained request rate per second.
	DefaultRateLimit = 10
	// DefaultBurst is the request burst allowed above the rate.
	DefaultBurst = 20
)

// HTTPOptions configures NewHTTPClient.
type HTTPOptions struct {
	// Token is sent as a bearer token on every request.
	Token string
	// Timeout per call (default DefaultTimeout).
	Timeout time.Duration
	// RateLimit in requests per second; negative disables limiting.
	RateLimit float64
	Burst     int
	PerPage   int
	// Client overrides the underlying http.Client.
	Client *http.Client
	Logger *slog.Logger
}

// HTTPClient talks to a PocketBase-style REST API:
//
//	POST   /api/collections/{collection}/records
//	PATCH  /api/collections/{collection}/records/{id}
//	DELETE /api/collections/{collection}/records/{id}
//	GET    /api/collections/{collection}/records?filter=(user='{id}')&page=N
type HTTPClient struct {
	base    *url.URL
	token   string
	timeout time.Duration
	perPage int
	limiter *rate.Limiter
	http    *http.Client
	logger  *slog.Logger
}

var _ Authority = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the server at baseURL.
func NewHTTPClient(baseURL string, opts HTTPOptions) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid remote url %q: scheme must be http or https", baseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PerPage <= 0 {
		opts.PerPage = DefaultPerPage
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limit := rate.Limit(opts.RateLimit)
	if opts.RateLimit < 0 {
		limit = rate.Inf
	}
	return &HTTPClient{
		base:    u,
		token:   opts.Token,
		timeout: opts.Timeout,
		perPage: opts.PerPage,
		limiter: rate.NewLimiter(limit, opts.Burst),
		http:    opts.Client,
		logger:  opts.Logger,
	}, nil
}

// Create implements Authority.
func (c *HTTPClient) Create(ctx context.Context, collection string, data []byte) (Record, error) {
	var rec Record
	err := c.do(ctx, OpCreate, collection, "", http.MethodPost, c.recordsURL(collection, ""), data, func(body []byte) error {
		var err error
		rec, err = decodeRecord(body)
		return err
	})
	return rec, err
}

// Update implements Authority.
func (c *HTTPClient) Update(ctx context.Context, collection, id string, data []byte) (Record, error) {
	var rec Record
	err := c.do(ctx, OpUpdate, collection, id, http.MethodPatch, c.recordsURL(collection, id), data, func(body []byte) error {
		var err error
		rec, err = decodeRecord(body)
		return err
	})
	return rec, err
}

// Delete implements Authority.
func (c *HTTPClient) Delete(ctx context.Context, collection, id string) error {
	return c.do(ctx, OpDelete, collection, id, http.MethodDelete, c.recordsURL(collection, id), nil, nil)
}

// List implements Authority, following pages until the last one.
func (c *HTTPClient) List(ctx context.Context, collection, userID string) ([]Record, error) {
	var out []Record
	for page := 1; ; page++ {
		u := c.recordsURL(collection, "")
		q := url.Values{}
		q.Set("filter", fmt.Sprintf("(user='%s')", strings.ReplaceAll(userID, "'", `\'`)))
		q.Set("page", strconv.Itoa(page))
		q.Set("perPage", strconv.Itoa(c.perPage))
		q.Set("skipTotal", "1")
		u.RawQuery = q.Encode()

		var lp listPage
		err := c.do(ctx, OpList, collection, "", http.MethodGet, u, nil, func(body []byte) error {
			return json.Unmarshal(body, &lp)
		})
		if err != nil {
			return nil, err
		}
		for _, raw := range lp.Items {
			rec, err := decodeRecord(raw)
			if err != nil {
				return nil, &Error{Op: OpList, Collection: collection, Kind: ErrTransient, Err: err}
			}
			out = append(out, rec)
		}
		if len(lp.Items) < c.perPage || (lp.TotalPages > 0 && page >= lp.TotalPages) {
			return out, nil
		}
	}
}

type listPage struct {
	Page       int               `json:"page"`
	PerPage    int               `json:"perPage"`
	TotalPages int               `json:"totalPages"`
	Items      []json.RawMessage `json:"items"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *HTTPClient) recordsURL(collection, id string) *url.URL {
	p := c.base.JoinPath("api", "collections", collection, "records")
	if id != "" {
		p = p.JoinPath(id)
	}
	return p
}

// do performs one rate-limited, time-bounded request and hands a 2xx body
// to decode.
func (c *HTTPClient) do(ctx context.Context, op, collection, id, method string, u *url.URL, payload []byte, decode func([]byte) error) error {
	fail := func(kind error, status int, msg string, err error) error {
		return &Error{Op: op, Collection: collection, ID: id, Kind: kind, Status: status, Message: msg, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return fail(ErrTransient, 0, "rate limited", err)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fail(ErrTransient, 0, "", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fail(ErrTransient, 0, "", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fail(ErrTransient, resp.StatusCode, "", err)
	}
	c.logger.Debug("remote call", "op", op, "collection", collection, "id", id,
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae apiError
		_ = json.Unmarshal(respBody, &ae)
		return fail(kindForStatus(resp.StatusCode), resp.StatusCode, ae.Message, nil)
	}
	if decode == nil {
		return nil
	}
	if err := decode(respBody); err != nil {
		return fail(ErrTransient, resp.StatusCode, "malformed response", err)
	}
	return nil
}

// decodeRecord extracts id and updated from a record body, keeping the
// whole body as Data.
func decodeRecord(body []byte) (Record, error) {
	var head struct {
		ID      string `json:"id"`
		Updated string `json:"updated"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	if head.ID == "" {
		return Record{}, fmt.Errorf("record without id")
	}
	rec := Record{ID: head.ID, Data: append(json.RawMessage(nil), body...)}
	if head.Updated != "" {
		t, err := schema.ParseTimestamp(head.Updated)
		if err != nil {
			return Record{}, fmt.Errorf("record %s: %w", head.ID, err)
		}
		rec.Updated = t
	}
	return rec, nil
}
