package headhunter

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/jobs"
	"github.com/spigell/jobhunter/internal/render"
	"github.com/spigell/jobhunter/internal/scraper"
	"github.com/spigell/jobhunter/internal/sender"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(zap.NewNop(), "token")
	c.APIURL = srv.URL
	c.HTTPClient = srv.Client()
	return c
}

func vacancyPage(page, pages int, ids ...string) map[string]any {
	items := make([]any, 0, len(ids))
	for _, id := range ids {
		items = append(items, map[string]any{
			"id":            id,
			"name":          "Go Developer " + id,
			"alternate_url": "https://hh.ru/vacancy/" + id,
			"area":          map[string]any{"id": "1", "name": "Moscow"},
			"employer":      map[string]any{"id": "e" + id, "name": "Acme"},
			"schedule":      map[string]any{"id": "remote", "name": "Remote"},
			"salary":        map[string]any{"from": 200000, "to": nil, "currency": "RUR"},
			"snippet": map[string]any{
				"requirement":    "Strong <highlighttext>Go</highlighttext> skills",
				"responsibility": "Build <b>services</b>",
			},
			"published_at": "2024-05-01T10:00:00+0300",
			"has_test":     id == "3",
		})
	}
	return map[string]any{"items": items, "found": 3, "pages": pages, "page": page, "per_page": len(ids)}
}

func TestScraperFetchPaginates(t *testing.T) {
	var mu sync.Mutex
	var queries []string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != SearchPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("missing bearer token")
		}

		mu.Lock()
		queries = append(queries, r.URL.RawQuery)
		mu.Unlock()

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))

		// exercise the gzip path on the second page
		if page == 1 {
			w.Header().Set("Content-Encoding", "gzip")
			gz := gzip.NewWriter(w)
			_ = json.NewEncoder(gz).Encode(vacancyPage(1, 2, "3"))
			_ = gz.Close()
			return
		}
		_ = json.NewEncoder(w).Encode(vacancyPage(0, 2, "1", "2"))
	})

	s := NewScraper(c, SearchConfig{Areas: []int{1, 2}, SkipTests: true})
	raws, err := s.Fetch(context.Background(), jobs.SearchCriteria{Keywords: []string{"golang", "backend"}})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(raws) != 2 {
		t.Fatalf("expected 2 postings (vacancy with test skipped), got %d", len(raws))
	}

	first := raws[0]
	if first.Platform != Platform || first.ExternalID != "1" || first.Company != "Acme" || first.Location != "Moscow" {
		t.Fatalf("unexpected posting: %+v", first)
	}
	if !first.Remote || first.SalaryMin == nil || *first.SalaryMin != 200000 || first.SalaryMax != nil {
		t.Fatalf("unexpected salary or remote flag: %+v", first)
	}
	if first.Salary != "200000 RUR" {
		t.Fatalf("unexpected salary text: %q", first.Salary)
	}
	if strings.Contains(first.Description, "<") || !strings.Contains(first.Description, "**services**") {
		t.Fatalf("description not converted to markdown: %q", first.Description)
	}
	if first.PostedAt == nil || first.PostedAt.UTC().Hour() != 7 {
		t.Fatalf("unexpected posted at: %v", first.PostedAt)
	}

	if len(queries) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(queries))
	}
	for _, want := range []string{"text=golang+backend", "area=1", "area=2", "per_page=100", "order_by=publication_time"} {
		if !strings.Contains(queries[0], want) {
			t.Fatalf("query %q does not contain %q", queries[0], want)
		}
	}
}

func TestScraperFetchHonorsLimit(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(vacancyPage(0, 5, "1", "2"))
	})

	raws, err := NewScraper(c, SearchConfig{}).Fetch(context.Background(), jobs.SearchCriteria{Limit: 2})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(raws) != 2 || calls != 1 {
		t.Fatalf("expected one page with 2 postings, got %d postings in %d calls", len(raws), calls)
	}
}

func TestScraperFetchWrapsErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"errors":[{"type":"forbidden"}]}`, http.StatusForbidden)
	})

	_, err := NewScraper(c, SearchConfig{}).Fetch(context.Background(), jobs.SearchCriteria{})

	var se *scraper.ScrapeError
	if err == nil || !errors.As(err, &se) || se.Platform != Platform {
		t.Fatalf("expected ScrapeError, got %v", err)
	}
	if !strings.Contains(err.Error(), "403") {
		t.Fatalf("status not reported: %v", err)
	}
}

func TestBuildParams(t *testing.T) {
	q := buildParams(&SearchParams{
		Text:      "go",
		Areas:     []int{113},
		Schedules: []string{"remote", ""},
		Period:    0,
		PerPage:   50,
	})

	if got := q.Encode(); got != "area=113&per_page=50&schedule=remote&text=go" {
		t.Fatalf("unexpected params: %s", got)
	}
}

func TestNegotiatorSend(t *testing.T) {
	var form map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != apiNegotiataionPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		form = map[string]string{
			"resume_id":  r.FormValue("resume_id"),
			"vacancy_id": r.FormValue("vacancy_id"),
			"message":    r.FormValue("message"),
		}
		w.WriteHeader(http.StatusCreated)
	})

	n, err := NewNegotiator(c, "resume-1")
	if err != nil {
		t.Fatalf("new negotiator: %v", err)
	}

	ack, err := n.Send(context.Background(), render.Content{Subject: "ignored", Body: "Hello!"}, "555")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ack.Channel != Platform || ack.ID != "555" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if form["resume_id"] != "resume-1" || form["vacancy_id"] != "555" || form["message"] != "Hello!" {
		t.Fatalf("unexpected form: %v", form)
	}
}

func TestNegotiatorErrorKinds(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{status: http.StatusTooManyRequests, transient: true},
		{status: http.StatusServiceUnavailable, transient: true},
		{status: http.StatusForbidden, transient: false},
		{status: http.StatusBadRequest, transient: false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			n, err := NewNegotiator(c, "r")
			if err != nil {
				t.Fatalf("new negotiator: %v", err)
			}

			_, err = n.Send(context.Background(), render.Content{Body: "x"}, "1")
			if err == nil {
				t.Fatal("expected error")
			}
			if sender.IsTransient(err) != tt.transient {
				t.Fatalf("expected transient=%v, got %v", tt.transient, err)
			}
		})
	}
}

func TestResolveResume(t *testing.T) {
	resumes := []any{
		map[string]any{"id": "a", "title": "Go Developer"},
		map[string]any{"id": "b", "title": "SRE"},
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/resumes/mine" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": resumes, "pages": 1, "page": 0})
	})

	id, err := c.ResolveResume(context.Background(), " sre ")
	if err != nil || id != "b" {
		t.Fatalf("expected resume b, got %q, %v", id, err)
	}

	if _, err := c.ResolveResume(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "several resumes") {
		t.Fatalf("expected ambiguity error, got %v", err)
	}

	if _, err := c.ResolveResume(context.Background(), "Designer"); err == nil {
		t.Fatal("expected not found error")
	}
}
