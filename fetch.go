package tracksync

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
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fastjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrNotFound marks a 404 from the upstream. Fetches treat it as "collection
// has no data" rather than a failure.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx upstream response that was not converted into an
// empty result.
type StatusError struct {
	Status int
	URL    string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.URL, e.Status, e.Body)
}

func (e *StatusError) Temporary() bool {
	return RetryableStatus(e.Status)
}

// Query is a flat set of query parameters.
type Query map[string]string

func (q Query) clone() url.Values {
	v := url.Values{}
	for k, val := range q {
		if val != "" {
			v.Set(k, val)
		}
	}
	return v
}

// Client fetches paginated collections from one upstream API. All state is
// explicit so several clients against different workspaces can coexist in one
// process.
type Client struct {
	BaseURL  string
	Headers  map[string]string
	PageSize int

	HTTPClient *http.Client
	Retry      RetryPolicy
	Limiter    *rate.Limiter
}

func (c *Client) pageSize() int {
	if c.PageSize <= 0 {
		return 200
	}
	return c.PageSize
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// Records is a lazy sequence of RawRecords produced by a paginated fetch.
type Records struct {
	ch chan RawRecord
	g  *errgroup.Group
}

// All drains the stream. Batches fit in memory at this workload's scale, so
// callers materialize per collection.
func (r *Records) All() ([]RawRecord, error) {
	var out []RawRecord
	for rec := range r.ch {
		out = append(out, rec)
	}
	if err := r.g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Fetch retrieves the complete sequence of records for coll, following its
// pagination style. extra carries the window/filter parameters for this run
// and is merged over the collection's fixed params.
func (c *Client) Fetch(ctx context.Context, coll Collection, extra Query) *Records {
	out := make(chan RawRecord, 64)
	g, ctx := errgroup.WithContext(ctx)
	r := &Records{ch: out, g: g}
	g.Go(func() error {
		defer close(out)
		n, err := c.fetchPages(ctx, coll, extra, out)
		if errors.Is(err, ErrNotFound) {
			log.Printf("[%s] upstream returned 404, treating as empty", coll.Name)
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch %s: %w", coll.Name, err)
		}
		log.Printf("[%s] fetched %d records", coll.Name, n)
		return nil
	})
	return r
}

func (c *Client) fetchPages(ctx context.Context, coll Collection, extra Query, out chan<- RawRecord) (int, error) {
	params := Query{}
	for k, v := range coll.Params {
		params[k] = v
	}
	for k, v := range extra {
		params[k] = v
	}
	switch coll.Pagination {
	case PaginatePage:
		return c.fetchPaged(ctx, coll, params, out)
	case PaginateReport:
		return c.fetchReport(ctx, coll, params, out)
	default:
		return c.fetchCursor(ctx, coll, params, out)
	}
}

// fetchCursor follows an opaque nextCursor token until the server stops
// returning one.
func (c *Client) fetchCursor(ctx context.Context, coll Collection, params Query, out chan<- RawRecord) (int, error) {
	params["limit"] = strconv.Itoa(c.pageSize())
	var n int
	for {
		payload, err := c.getJSON(ctx, coll.Path, params)
		if err != nil {
			return n, err
		}
		emitted, err := emitItems(ctx, payload, coll.ItemsKey, out)
		if err != nil {
			return n, err
		}
		n += emitted
		next := string(payload.GetStringBytes("nextCursor"))
		if next == "" {
			return n, nil
		}
		params["cursor"] = next
	}
}

// fetchPaged walks numbered pages; a page shorter than the page size is the
// last one.
func (c *Client) fetchPaged(ctx context.Context, coll Collection, params Query, out chan<- RawRecord) (int, error) {
	size := c.pageSize()
	params["page-size"] = strconv.Itoa(size)
	var n int
	for page := 1; ; page++ {
		params["page"] = strconv.Itoa(page)
		payload, err := c.getJSON(ctx, coll.Path, params)
		if err != nil {
			return n, err
		}
		emitted, err := emitItems(ctx, payload, coll.ItemsKey, out)
		if err != nil {
			return n, err
		}
		n += emitted
		if emitted < size {
			return n, nil
		}
	}
}

type reportRequest struct {
	DateRangeStart string       `json:"dateRangeStart"`
	DateRangeEnd   string       `json:"dateRangeEnd"`
	DetailedFilter reportFilter `json:"detailedFilter"`
	ExportType     string       `json:"exportType"`
	IncludeIDs     bool         `json:"includeTimeEntryIds"`
}

type reportFilter struct {
	Page       int    `json:"page"`
	PageSize   int    `json:"pageSize"`
	SortColumn string `json:"sortColumn"`
}

// fetchReport drives the POST-style report endpoint: page/pageSize in a JSON
// body, items under the collection's ItemsKey.
func (c *Client) fetchReport(ctx context.Context, coll Collection, params Query, out chan<- RawRecord) (int, error) {
	size := c.pageSize()
	start, end := reportRange(params["dateFrom"], params["dateTo"])
	var n int
	for page := 1; ; page++ {
		req := reportRequest{
			DateRangeStart: start,
			DateRangeEnd:   end,
			DetailedFilter: reportFilter{Page: page, PageSize: size, SortColumn: "DATE"},
			ExportType:     "JSON",
			IncludeIDs:     true,
		}
		b, err := json.Marshal(req)
		if err != nil {
			return n, err
		}
		payload, err := c.postJSON(ctx, coll.Path, b)
		if err != nil {
			return n, err
		}
		emitted, err := emitItems(ctx, payload, coll.ItemsKey, out)
		if err != nil {
			return n, err
		}
		n += emitted
		if emitted < size {
			return n, nil
		}
	}
}

// reportRange converts dateFrom/dateTo (YYYY-MM-DD) into the report API's
// full-day range bounds. A missing or malformed upper bound becomes today,
// and a missing lower bound falls back to 90 days before it.
func reportRange(from, to string) (string, string) {
	end, err := time.Parse("2006-01-02", to)
	if err != nil {
		end = time.Now().UTC()
		to = end.Format("2006-01-02")
	}
	if from == "" {
		from = end.AddDate(0, 0, -90).Format("2006-01-02")
	}
	return from + "T00:00:00.000Z", to + "T23:59:59.999Z"
}

// emitItems locates the item array in a payload and sends each element. A
// bare array is the items themselves; a single object counts as one item.
func emitItems(ctx context.Context, payload *fastjson.Value, itemsKey string, out chan<- RawRecord) (int, error) {
	items := payload
	if itemsKey != "" {
		items = payload.Get(itemsKey)
		if items == nil {
			return 0, nil
		}
	}
	var arr []*fastjson.Value
	if items.Type() == fastjson.TypeArray {
		arr = items.GetArray()
	} else if items.Type() == fastjson.TypeObject {
		arr = []*fastjson.Value{items}
	}
	for _, v := range arr {
		select {
		case out <- NewRawRecord(v):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return len(arr), nil
}

func (c *Client) getJSON(ctx context.Context, path string, params Query) (*fastjson.Value, error) {
	return c.execJSON(ctx, http.MethodGet, path, params, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte) (*fastjson.Value, error) {
	return c.execJSON(ctx, http.MethodPost, path, nil, body)
}

// execJSON runs one logical request under the retry policy and parses the
// response. A fresh parser per page keeps values from earlier pages valid.
func (c *Client) execJSON(ctx context.Context, method, path string, params Query, body []byte) (*fastjson.Value, error) {
	raw, err := c.do(ctx, method, path, params, body)
	if err != nil {
		return nil, err
	}
	var p fastjson.Parser
	v, err := p.ParseBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return v, nil
}

func (c *Client) do(ctx context.Context, method, path string, params Query, body []byte) ([]byte, error) {
	// an absolute path overrides the base URL, for endpoints on another host
	u := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		u = strings.TrimSuffix(c.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	}
	if params != nil {
		if enc := params.clone().Encode(); enc != "" {
			u += "?" + enc
		}
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		for k, v := range c.Headers {
			req.Header.Set(k, v)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient().Do(req)
		if err != nil {
			// transport errors follow the same backoff schedule
			lastErr = err
			if attempt >= c.Retry.MaxAttempts {
				return nil, fmt.Errorf("%s %s: %w", method, u, lastErr)
			}
			if err := sleep(ctx, c.Retry.Delay(attempt, nil)); err != nil {
				return nil, err
			}
			continue
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%s %s: read body: %w", method, u, err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return raw, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%s %s: %w", method, u, ErrNotFound)
		}

		lastErr = &StatusError{Status: resp.StatusCode, URL: u, Body: snippet(raw)}
		if !c.Retry.ShouldRetry(attempt, resp.StatusCode) {
			return nil, lastErr
		}
		if err := sleep(ctx, c.Retry.Delay(attempt, resp.Header)); err != nil {
			return nil, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func snippet(b []byte) string {
	const max = 256
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
