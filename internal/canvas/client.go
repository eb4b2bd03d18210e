// Package canvas implements a typed client for the Canvas LMS REST API.
package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/canvaslabs/canvas-sync/internal/logging"
	"github.com/canvaslabs/canvas-sync/internal/metrics"
)

// ErrNotFound is returned when Canvas answers 404 for a resource.
var ErrNotFound = errors.New("canvas: not found")

// ErrUnauthorized is returned when the API token is rejected.
var ErrUnauthorized = errors.New("canvas: unauthorized")

// Options configure the Canvas client.
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	PerPage    int
	RateRPS    float64
	RateBurst  int
}

// Client talks to a single Canvas instance with a shared rate limit.
type Client struct {
	base    *url.URL
	token   string
	http    *retryablehttp.Client
	limiter *rate.Limiter
	perPage int
	log     *zap.Logger
}

// NewClient validates options and builds a Client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("canvas: base URL is required")
	}
	if opts.Token == "" {
		return nil, errors.New("canvas: token is required")
	}
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("canvas: parse base URL: %w", err)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.PerPage <= 0 {
		opts.PerPage = 100
	}
	if opts.RateRPS <= 0 {
		opts.RateRPS = 4
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 8
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.MaxRetries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.HTTPClient.Timeout = opts.Timeout
	rc.Logger = nil

	return &Client{
		base:    base,
		token:   opts.Token,
		http:    rc,
		limiter: rate.NewLimiter(rate.Limit(opts.RateRPS), opts.RateBurst),
		perPage: opts.PerPage,
		log:     logging.L.Named("canvas"),
	}, nil
}

func (c *Client) apiURL(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1" + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do issues one authenticated request and returns the response.
// The caller owns the body.
func (c *Client) do(ctx context.Context, resource, rawURL string) (*http.Response, error) {
	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if d := time.Since(waitStart); d > 10*time.Millisecond {
		metrics.ObserveRateLimitDelay(c.base.Host, d)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("canvas: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveCanvasRequest(resource, 0, time.Since(start))
		return nil, fmt.Errorf("canvas: %s: %w", resource, err)
	}
	metrics.ObserveCanvasRequest(resource, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("canvas: %s: status %d: %s", resource, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// getJSON fetches one resource and decodes it into out.
func (c *Client) getJSON(ctx context.Context, resource, rawURL string, out any) error {
	resp, err := c.do(ctx, resource, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("canvas: decode %s: %w", resource, err)
	}
	return nil
}

// getPaginated fetches every page of a list endpoint, following the
// rel="next" Link header until it runs out.
func getPaginated[T any](ctx context.Context, c *Client, resource, rawURL string) ([]T, error) {
	var all []T
	next := rawURL
	for next != "" {
		resp, err := c.do(ctx, resource, next)
		if err != nil {
			return nil, err
		}
		var page []T
		err = json.NewDecoder(resp.Body).Decode(&page)
		link := resp.Header.Get("Link")
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("canvas: decode %s: %w", resource, err)
		}
		all = append(all, page...)
		next = nextLink(link)
	}
	return all, nil
}

// nextLink parses an RFC 5988 Link header and returns the rel="next" URL.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		sections := strings.Split(part, ";")
		if len(sections) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(sections[0]), "<>")
		for _, param := range sections[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				return target
			}
		}
	}
	return ""
}

// ListActiveCourses returns the courses the token holder is actively
// enrolled in, sorted by ID.
func (c *Client) ListActiveCourses(ctx context.Context) ([]Course, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(c.perPage))
	q.Set("enrollment_state", "active")
	q.Add("include[]", "term")

	courses, err := getPaginated[Course](ctx, c, "courses", c.apiURL("/courses", q))
	if err != nil {
		return nil, err
	}
	active := courses[:0]
	for _, course := range courses {
		if course.Active() {
			active = append(active, course)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	c.log.Debug("listed active courses", zap.Int("count", len(active)))
	return active, nil
}

// GetCourse fetches a single course.
func (c *Client) GetCourse(ctx context.Context, courseID int64) (Course, error) {
	var course Course
	q := url.Values{}
	q.Add("include[]", "term")
	err := c.getJSON(ctx, "course", c.apiURL(fmt.Sprintf("/courses/%d", courseID), q), &course)
	return course, err
}

// ListModules returns all modules of a course in position order.
func (c *Client) ListModules(ctx context.Context, courseID int64) ([]Module, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(c.perPage))
	mods, err := getPaginated[Module](ctx, c, "modules", c.apiURL(fmt.Sprintf("/courses/%d/modules", courseID), q))
	if err != nil {
		return nil, err
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Position < mods[j].Position })
	return mods, nil
}

// ListModuleItems returns the items of one module in position order.
func (c *Client) ListModuleItems(ctx context.Context, courseID, moduleID int64) ([]ModuleItem, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(c.perPage))
	path := fmt.Sprintf("/courses/%d/modules/%d/items", courseID, moduleID)
	items, err := getPaginated[ModuleItem](ctx, c, "module_items", c.apiURL(path, q))
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items, nil
}

// GetPage fetches a wiki page including its HTML body.
func (c *Client) GetPage(ctx context.Context, courseID int64, pageURL string) (Page, error) {
	var page Page
	path := fmt.Sprintf("/courses/%d/pages/%s", courseID, url.PathEscape(pageURL))
	err := c.getJSON(ctx, "page", c.apiURL(path, nil), &page)
	return page, err
}

// GetFile fetches a file record, including its short-lived download URL.
func (c *Client) GetFile(ctx context.Context, fileID int64) (File, error) {
	var file File
	err := c.getJSON(ctx, "file", c.apiURL(fmt.Sprintf("/files/%d", fileID), nil), &file)
	return file, err
}

// ListAssignments returns all assignments of a course.
func (c *Client) ListAssignments(ctx context.Context, courseID int64) ([]Assignment, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(c.perPage))
	path := fmt.Sprintf("/courses/%d/assignments", courseID)
	return getPaginated[Assignment](ctx, c, "assignments", c.apiURL(path, q))
}

// ListQuizzes returns all quizzes of a course.
func (c *Client) ListQuizzes(ctx context.Context, courseID int64) ([]Quiz, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(c.perPage))
	path := fmt.Sprintf("/courses/%d/quizzes", courseID)
	return getPaginated[Quiz](ctx, c, "quizzes", c.apiURL(path, q))
}

// GetQuiz fetches a single quiz.
func (c *Client) GetQuiz(ctx context.Context, courseID, quizID int64) (Quiz, error) {
	var quiz Quiz
	path := fmt.Sprintf("/courses/%d/quizzes/%d", courseID, quizID)
	err := c.getJSON(ctx, "quiz", c.apiURL(path, nil), &quiz)
	return quiz, err
}

// DownloadFile streams a file's content to w and reports bytes written.
// The download URL is pre-signed, so no Authorization header is sent.
func (c *Client) DownloadFile(ctx context.Context, downloadURL string, w io.Writer) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return 0, fmt.Errorf("canvas: build download request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveCanvasRequest("download", 0, time.Since(start))
		return 0, fmt.Errorf("canvas: download: %w", err)
	}
	defer resp.Body.Close()
	metrics.ObserveCanvasRequest("download", resp.StatusCode, time.Since(start))

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, downloadURL)
	}
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("canvas: download: status %d", resp.StatusCode)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("canvas: download body: %w", err)
	}
	metrics.AddBytesDownloaded(int(n))
	return n, nil
}

// UpcomingDueDates aggregates assignment and quiz due dates for a course
// that fall within the window, sorted soonest first.
func (c *Client) UpcomingDueDates(ctx context.Context, courseID int64, now time.Time, window time.Duration) ([]DueItem, error) {
	assignments, err := c.ListAssignments(ctx, courseID)
	if err != nil {
		return nil, err
	}
	quizzes, err := c.ListQuizzes(ctx, courseID)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(window)
	var due []DueItem
	for _, a := range assignments {
		if a.DueAt == nil || a.DueAt.Before(now) || a.DueAt.After(cutoff) {
			continue
		}
		due = append(due, DueItem{
			CourseID: courseID, Kind: "assignment", ID: a.ID,
			Title: a.Name, DueAt: *a.DueAt, Points: a.PointsPossible, HTMLURL: a.HTMLURL,
		})
	}
	for _, qz := range quizzes {
		if qz.DueAt == nil || qz.DueAt.Before(now) || qz.DueAt.After(cutoff) {
			continue
		}
		due = append(due, DueItem{
			CourseID: courseID, Kind: "quiz", ID: qz.ID,
			Title: qz.Title, DueAt: *qz.DueAt, Points: qz.PointsPossible, HTMLURL: qz.HTMLURL,
		})
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	return due, nil
}
