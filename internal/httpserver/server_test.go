package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/blackmichael/altcheck/internal/config"
	"github.com/blackmichael/altcheck/internal/domain"
	"github.com/blackmichael/altcheck/internal/metrics"
)

type fakeFeedback struct {
	calls   []int64
	outcome domain.Outcome
	err     error
}

func (f *fakeFeedback) HandlePublished(_ context.Context, postID int64) (domain.Outcome, error) {
	f.calls = append(f.calls, postID)
	return f.outcome, f.err
}

func newTestServer(secret string, feedback FeedbackHandler) http.Handler {
	cfg := &config.Config{Port: 0, WebhookSecret: secret}
	return NewServer(cfg, feedback, slog.New(slog.DiscardHandler)).Handler()
}

func TestHealth(t *testing.T) {
	handler := newTestServer("", &fakeFeedback{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body: %s", rec.Body.String())
	}
}

func TestPostStatusHook(t *testing.T) {
	testCases := []struct {
		name        string
		secret      string
		header      string
		body        string
		err         error
		wantStatus  int
		wantOutcome string
		wantCalls   int
	}{
		{
			name:        "Publish runs the check",
			body:        `{"post_id":42,"old_status":"draft","new_status":"publish"}`,
			wantStatus:  http.StatusOK,
			wantOutcome: "inserted",
			wantCalls:   1,
		},
		{
			name:        "Other status is ignored",
			body:        `{"post_id":42,"new_status":"draft"}`,
			wantStatus:  http.StatusAccepted,
			wantOutcome: "ignored",
		},
		{
			name:        "Matching secret",
			secret:      "s3cret",
			header:      "s3cret",
			body:        `{"post_id":42,"new_status":"publish"}`,
			wantStatus:  http.StatusOK,
			wantOutcome: "inserted",
			wantCalls:   1,
		},
		{
			name:       "Wrong secret",
			secret:     "s3cret",
			header:     "guess",
			body:       `{"post_id":42,"new_status":"publish"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Missing secret",
			secret:     "s3cret",
			body:       `{"post_id":42,"new_status":"publish"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Malformed body",
			body:       `{"post_id":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Missing post id",
			body:       `{"new_status":"publish"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Handler failure",
			body:       `{"post_id":42,"new_status":"publish"}`,
			err:        errors.New("store unavailable"),
			wantStatus: http.StatusInternalServerError,
			wantCalls:  1,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			feedback := &fakeFeedback{outcome: domain.OutcomeInserted, err: testCase.err}
			handler := newTestServer(testCase.secret, feedback)

			req := httptest.NewRequest(http.MethodPost, "/hooks/post-status", strings.NewReader(testCase.body))
			if testCase.header != "" {
				req.Header.Set(secretHeader, testCase.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != testCase.wantStatus {
				t.Fatalf("status: got %d, want %d (body %s)", rec.Code, testCase.wantStatus, rec.Body.String())
			}
			if len(feedback.calls) != testCase.wantCalls {
				t.Errorf("handler calls: got %d, want %d", len(feedback.calls), testCase.wantCalls)
			}
			if testCase.wantOutcome != "" {
				var resp map[string]any
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode response: %v", err)
				}
				if resp["outcome"] != testCase.wantOutcome {
					t.Errorf("outcome: got %v, want %s", resp["outcome"], testCase.wantOutcome)
				}
			}
		})
	}
}

func TestScan(t *testing.T) {
	handler := newTestServer("s3cret", &fakeFeedback{})

	body := `<img src="a.jpg"><img src="b.jpg" alt=""><svg></svg><img src="c.jpg">`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}

	var resp struct {
		Clean   bool           `json:"clean"`
		Defects map[string]int `json:"defects"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Clean {
		t.Error("expected defects")
	}
	want := map[string]int{"missing_alt": 2, "empty_alt": 1, "aria_issue": 1}
	for k, v := range want {
		if resp.Defects[k] != v {
			t.Errorf("%s: got %d, want %d", k, resp.Defects[k], v)
		}
	}
}

func TestMetrics(t *testing.T) {
	metrics.Register()
	metrics.PostsScannedTotal.Inc()

	handler := newTestServer("", &fakeFeedback{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "altcheck_feedback_posts_scanned_total") {
		t.Error("metrics output is missing altcheck_feedback_posts_scanned_total")
	}
}
