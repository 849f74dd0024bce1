package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fecingest/internal/config"
	"fecingest/internal/notifications"
)

type captured struct {
	title    string
	message  string
	tags     string
	priority string
}

func newCaptureServer(t *testing.T) (*httptest.Server, chan captured) {
	t.Helper()
	ch := make(chan captured, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- captured{
			title:    r.Header.Get("Title"),
			message:  string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyRunFailed(context.Background(), notifications.RunReport{Pipeline: "fetch"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNotifyRunFailedFormatsPayload(t *testing.T) {
	srv, ch := newCaptureServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL

	svc := notifications.NewService(&cfg)
	err := svc.NotifyRunFailed(context.Background(), notifications.RunReport{
		RunID:       "r-1",
		Pipeline:    "fetch",
		Name:        "indiv",
		Cycle:       "2024",
		FailedStage: "transform",
		ErrorKind:   "transform",
		Message:     "upstream 503",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	got := <-ch
	if got.title != "fecingest - Run Failed" {
		t.Fatalf("unexpected title %q", got.title)
	}
	want := "fetch run failed for indiv 2024 at stage transform (transform): upstream 503\nrun r-1"
	if got.message != want {
		t.Fatalf("unexpected message %q", got.message)
	}
	if got.tags != "fecingest,fetch,failed" || got.priority != "high" {
		t.Fatalf("unexpected tags/priority %q/%q", got.tags, got.priority)
	}
}

func TestSuccessNotificationsAreOptIn(t *testing.T) {
	srv, ch := newCaptureServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL

	report := notifications.RunReport{Pipeline: "stage", Name: "indiv", Cycle: "2024", Duration: 90 * time.Second}
	if err := notifications.NewService(&cfg).NotifyRunSucceeded(context.Background(), report); err != nil {
		t.Fatalf("notify: %v", err)
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected notification %+v", got)
	default:
	}

	cfg.Notifications.OnSuccess = true
	if err := notifications.NewService(&cfg).NotifyRunSucceeded(context.Background(), report); err != nil {
		t.Fatalf("notify: %v", err)
	}
	got := <-ch
	if got.message != "stage run complete for indiv 2024 in 1m30s" {
		t.Fatalf("unexpected message %q", got.message)
	}
}

func TestNotifyDrainCompleted(t *testing.T) {
	srv, ch := newCaptureServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL

	if err := notifications.NewService(&cfg).NotifyDrainCompleted(context.Background(), 3, 1, 2*time.Second); err != nil {
		t.Fatalf("notify: %v", err)
	}
	got := <-ch
	if !strings.Contains(got.title, "with errors") || got.message != "2 succeeded, 1 failed in 2s" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestNtfyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic closed", http.StatusForbidden)
	}))
	defer srv.Close()
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL

	err := notifications.NewService(&cfg).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
