package openreview

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// ErrAuth marks authentication failures. These are fatal for a sync: the
// engine aborts without advancing the watermark.
var ErrAuth = errors.New("authentication failed")

const (
	defaultPageSize = 1000
	maxRetries      = 3
	retryBackoff    = 5 * time.Second
)

// HTTPClient talks to one OpenReview API version over HTTP.
type HTTPClient struct {
	baseURL  string
	username string
	password string
	token    string
	http     *http.Client
	logger   *log.Logger
	backoff  time.Duration
}

// NewHTTPClient builds a client for one API base URL. If logger is nil, a
// default logger writing to stderr is used.
func NewHTTPClient(baseURL, username, password string, logger *log.Logger) *HTTPClient {
	if logger == nil {
		logger = log.New(os.Stderr, "[openreview] ", log.LstdFlags)
	}
	return &HTTPClient{
		baseURL:  baseURL,
		username: username,
		password: password,
		http:     &http.Client{Timeout: 60 * time.Second},
		logger:   logger,
		backoff:  retryBackoff,
	}
}

// Login authenticates and stores the bearer token. Called lazily by the
// request path, but exposed so the sync engine can fail fast before
// touching the cache.
func (c *HTTPClient) Login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"id":       c.username,
		"password": c.password,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: status %d", resp.StatusCode)
	}
	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse login response: %w", err)
	}
	c.token = result.Token
	return nil
}

// get issues a GET with bounded retry on rate limiting and transient
// server errors, decoding the JSON response into out.
func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, params, nil, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, params url.Values, body []byte, out interface{}) error {
	if c.token == "" && c.username != "" {
		if err := c.Login(ctx); err != nil {
			return err
		}
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d from %s", resp.StatusCode, path)
			c.logger.Printf("Transient error (%v), retrying in %v", lastErr, c.backoff)
			continue
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return fmt.Errorf("%w: status %d from %s", ErrAuth, resp.StatusCode, path)
		case resp.StatusCode != http.StatusOK:
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("status %d from %s: %s", resp.StatusCode, path, truncate(data, 200))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to parse response from %s: %w", path, err)
		}
		return nil
	}
	return fmt.Errorf("request to %s failed after %d retries: %w", path, maxRetries, lastErr)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

func (q NoteQuery) params() url.Values {
	params := url.Values{}
	if q.Invitation != "" {
		params.Set("invitation", q.Invitation)
	}
	if q.Forum != "" {
		params.Set("forum", q.Forum)
	}
	if q.AuthorID != "" {
		params.Set("content.authorids", q.AuthorID)
	}
	if q.MinTCDate > 0 {
		params.Set("mintcdate", strconv.FormatInt(q.MinTCDate, 10))
	}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Trash {
		params.Set("trash", "true")
	}
	if q.Details != "" {
		params.Set("details", q.Details)
	}
	return params
}

// GetNotes fetches a single page of notes.
func (c *HTTPClient) GetNotes(ctx context.Context, q NoteQuery) ([]*Note, error) {
	var result struct {
		Notes []*Note `json:"notes"`
	}
	if err := c.get(ctx, "/notes", q.params(), &result); err != nil {
		return nil, err
	}
	return result.Notes, nil
}

// GetAllNotes pages through every note matching the query.
func (c *HTTPClient) GetAllNotes(ctx context.Context, q NoteQuery) ([]*Note, error) {
	if q.Limit == 0 {
		q.Limit = defaultPageSize
	}
	var all []*Note
	for {
		page, err := c.GetNotes(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < q.Limit {
			return all, nil
		}
		q.Offset += q.Limit
	}
}

// GetGroups lists all groups with the given id prefix.
func (c *HTTPClient) GetGroups(ctx context.Context, prefix string) ([]*Group, error) {
	params := url.Values{}
	params.Set("prefix", prefix)
	var result struct {
		Groups []*Group `json:"groups"`
	}
	if err := c.get(ctx, "/groups", params, &result); err != nil {
		return nil, err
	}
	return result.Groups, nil
}

// GetProfile fetches one profile by canonical key or email.
func (c *HTTPClient) GetProfile(ctx context.Context, id string) (*ProfileRecord, error) {
	params := url.Values{}
	if isEmail(id) {
		params.Set("email", id)
	} else {
		params.Set("id", id)
	}
	var result struct {
		Profiles []*ProfileRecord `json:"profiles"`
	}
	if err := c.get(ctx, "/profiles", params, &result); err != nil {
		return nil, err
	}
	if len(result.Profiles) == 0 {
		return nil, fmt.Errorf("no profile found for %s", id)
	}
	return result.Profiles[0], nil
}

// GetGroupedEdges runs a bulk edge query grouped by the given field.
func (c *HTTPClient) GetGroupedEdges(ctx context.Context, invitation, groupBy, sel string) ([]GroupedEdges, error) {
	params := url.Values{}
	params.Set("invitation", invitation)
	params.Set("groupby", groupBy)
	if sel != "" {
		params.Set("select", sel)
	}
	var result struct {
		GroupedEdges []GroupedEdges `json:"groupedEdges"`
	}
	if err := c.get(ctx, "/edges", params, &result); err != nil {
		return nil, err
	}
	return result.GroupedEdges, nil
}

// GetNoteEdits lists the edits of a note.
func (c *HTTPClient) GetNoteEdits(ctx context.Context, noteID string) ([]*Edit, error) {
	params := url.Values{}
	params.Set("note.id", noteID)
	var result struct {
		Edits []*Edit `json:"edits"`
	}
	if err := c.get(ctx, "/notes/edits", params, &result); err != nil {
		return nil, err
	}
	return result.Edits, nil
}

// PostNoteEdit submits a note edit.
func (c *HTTPClient) PostNoteEdit(ctx context.Context, edit *Edit) error {
	body, err := json.Marshal(edit)
	if err != nil {
		return err
	}
	var result json.RawMessage
	return c.do(ctx, http.MethodPost, "/notes/edits", nil, body, &result)
}

// PostGroupEdit submits a group edit.
func (c *HTTPClient) PostGroupEdit(ctx context.Context, edit *GroupEdit) error {
	body, err := json.Marshal(edit)
	if err != nil {
		return err
	}
	var result json.RawMessage
	return c.do(ctx, http.MethodPost, "/groups/edits", nil, body, &result)
}

func isEmail(s string) bool {
	for _, r := range s {
		if r == '@' {
			return true
		}
	}
	return false
}
