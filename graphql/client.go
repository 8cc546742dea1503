// Package graphql serves following lists and follow mutations from a GraphQL
// server exposing the me, user and follow fields. A *Client is both a
// followcache.QuerySource and a followcache.MutationSink.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/samber/lo"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/Alp4ka/followcache"
)

var tracer = otel.Tracer("followcache/graphql")

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return "unexpected graphql response status: " + e.Status
}

type Client struct {
	endpoint string
	headers  map[string]string
	perPage  int
	http     *http.Client
	logger   *slog.Logger

	pages singleflight.Group
}

// NewClient validates cfg and the client's operations against the embedded
// schema. A nil httpClient is replaced by one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := loadSchema(); err != nil {
		return nil, err
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		endpoint: cfg.Endpoint,
		headers:  cfg.Headers,
		perPage:  cfg.PerPage,
		http:     httpClient,
		logger:   slog.Default(),
	}, nil
}

// WithLogger sets the logger. A nil logger is ignored.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}

	return c
}

// FirstCursor returns the cursor of the first page with the configured page size.
func (c *Client) FirstCursor() followcache.Cursor {
	return followcache.FirstCursor(c.perPage)
}

type user struct {
	ID    string  `json:"id"`
	Name  *string `json:"name"`
	Login string  `json:"login"`
}

func (u user) entry() followcache.Entry {
	return followcache.Entry{ID: u.ID, Name: u.Name, Login: u.Login}
}

type followingUser struct {
	FollowingCount *int    `json:"followingCount"`
	Following      []*user `json:"following"`
}

type pageData struct {
	User *followingUser `json:"user"`
	Me   *followingUser `json:"me"`
}

type followData struct {
	Follow *user `json:"follow"`
}

// FetchPage - implements followcache.QuerySource. An empty login reads the
// viewer's list through the me field. A null base user yields a nil page.
//
// Concurrent calls for the same login and cursor share one request. The
// shared request is not cancelled when one of the callers gives up.
func (c *Client) FetchPage(ctx context.Context, login string, cursor followcache.Cursor) (*followcache.Page, error) {
	key := login + "|" + strconv.Itoa(cursor.Page) + "|" + strconv.Itoa(cursor.PerPage)

	ch := c.pages.DoChan(key, func() (any, error) {
		return c.fetchPage(context.WithoutCancel(ctx), login, cursor)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("page request shared", "login", login, "cursor", cursor.String())
		}

		return res.Val.(*followcache.Page), nil
	}
}

func (c *Client) fetchPage(ctx context.Context, login string, cursor followcache.Cursor) (*followcache.Page, error) {
	vars := map[string]any{
		"page":    cursor.Page,
		"perPage": cursor.PerPage,
	}
	op := opMe
	if login != "" {
		op = opFollowing
		vars["login"] = login
	}

	var data pageData
	if err := c.do(ctx, op, vars, &data); err != nil {
		return nil, err
	}

	base := lo.Ternary(login == "", data.Me, data.User)
	if base == nil {
		return nil, nil
	}

	return &followcache.Page{
		TotalCount: lo.FromPtr(base.FollowingCount),
		Entries: lo.FilterMap(base.Following, func(u *user, _ int) (followcache.Entry, bool) {
			if u == nil {
				return followcache.Entry{}, false
			}

			return u.entry(), true
		}),
	}, nil
}

// SubmitFollow - implements followcache.MutationSink.
func (c *Client) SubmitFollow(ctx context.Context, login string) (*followcache.Entry, error) {
	var data followData
	if err := c.do(ctx, opFollow, map[string]any{"login": login}, &data); err != nil {
		return nil, err
	}
	if data.Follow == nil {
		return nil, fmt.Errorf("graphql %s: null follow: %w", opFollow.name, followcache.ErrMalformedResponse)
	}

	entry := data.Follow.entry()

	return &entry, nil
}

type request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type response struct {
	Data   *json.RawMessage `json:"data"`
	Errors gqlerror.List    `json:"errors,omitempty"`
}

func (c *Client) do(ctx context.Context, op operation, vars map[string]any, out any) (err error) {
	ctx, span := tracer.Start(ctx, "graphql."+op.name, trace.WithAttributes(
		attribute.String("graphql.operation.name", op.name),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := json.Marshal(request{Query: op.document, OperationName: op.name, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to encode graphql %s request: %w", op.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create graphql %s request: %w", op.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute graphql %s request: %w", op.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("graphql %s: %w", op.name, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status})
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("failed to decode graphql %s response: %w", op.name, err)
	}
	if len(decoded.Errors) > 0 {
		return fmt.Errorf("graphql %s: %w", op.name, decoded.Errors)
	}
	if decoded.Data == nil {
		return fmt.Errorf("graphql %s: no data: %w", op.name, followcache.ErrMalformedResponse)
	}
	if err := json.Unmarshal(*decoded.Data, out); err != nil {
		return fmt.Errorf("failed to decode graphql %s data: %w", op.name, err)
	}

	return nil
}

var (
	_ followcache.QuerySource  = (*Client)(nil)
	_ followcache.MutationSink = (*Client)(nil)
)
