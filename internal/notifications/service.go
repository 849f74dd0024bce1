package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fecingest/internal/config"
)

const userAgent = "fecingest/0.1.0"

// RunReport summarizes a finished pipeline run.
type RunReport struct {
	RunID       string
	Pipeline    string
	Name        string
	Cycle       string
	FailedStage string
	ErrorKind   string
	Message     string
	Duration    time.Duration
}

// Service defines the notification surface exposed to the dispatcher.
type Service interface {
	NotifyRunFailed(ctx context.Context, report RunReport) error
	NotifyRunSucceeded(ctx context.Context, report RunReport) error
	NotifyDrainCompleted(ctx context.Context, processed, failed int, duration time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		onSuccess: cfg.Notifications.OnSuccess,
		onFailure: cfg.Notifications.OnFailure,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	onSuccess bool
	onFailure bool
}

func label(report RunReport) string {
	subject := strings.TrimSpace(report.Name)
	if cycle := strings.TrimSpace(report.Cycle); cycle != "" {
		subject += " " + cycle
	}
	if subject == "" {
		subject = report.RunID
	}
	return subject
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, report RunReport) error {
	if !n.onFailure {
		return nil
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "%s run failed for %s", report.Pipeline, label(report))
	if report.FailedStage != "" {
		fmt.Fprintf(&builder, " at stage %s", report.FailedStage)
	}
	if report.ErrorKind != "" {
		fmt.Fprintf(&builder, " (%s)", report.ErrorKind)
	}
	if msg := strings.TrimSpace(report.Message); msg != "" {
		builder.WriteString(": ")
		builder.WriteString(msg)
	}
	builder.WriteString("\nrun ")
	builder.WriteString(report.RunID)

	data := payload{
		title:    "fecingest - Run Failed",
		message:  builder.String(),
		tags:     []string{"fecingest", report.Pipeline, "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunSucceeded(ctx context.Context, report RunReport) error {
	if !n.onSuccess {
		return nil
	}
	data := payload{
		title:   "fecingest - Run Complete",
		message: fmt.Sprintf("%s run complete for %s in %s", report.Pipeline, label(report), formatDuration(report.Duration)),
		tags:    []string{"fecingest", report.Pipeline, "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDrainCompleted(ctx context.Context, processed, failed int, duration time.Duration) error {
	var title, message string
	if failed == 0 {
		if !n.onSuccess {
			return nil
		}
		title = "fecingest - Runs Complete"
		message = fmt.Sprintf("Processed %d runs in %s", processed, formatDuration(duration))
	} else {
		if !n.onFailure {
			return nil
		}
		title = "fecingest - Runs Complete (with errors)"
		message = fmt.Sprintf("%d succeeded, %d failed in %s", processed-failed, failed, formatDuration(duration))
	}
	data := payload{
		title:   title,
		message: message,
		tags:    []string{"fecingest", "runs", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "fecingest - Test",
		message:  "Notification system test",
		tags:     []string{"fecingest", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunFailed(context.Context, RunReport) error                     { return nil }
func (noopService) NotifyRunSucceeded(context.Context, RunReport) error                  { return nil }
func (noopService) NotifyDrainCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) TestNotification(context.Context) error                               { return nil }
