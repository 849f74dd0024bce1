package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"fecingest/internal/handoff"
	"fecingest/internal/ledger"
)

type runView struct {
	ID            string     `json:"id"`
	Pipeline      string     `json:"pipeline"`
	Name          string     `json:"name"`
	Cycle         string     `json:"cycle"`
	Status        string     `json:"status"`
	Stage         string     `json:"stage,omitempty"`
	FailedStage   string     `json:"failed_stage,omitempty"`
	ErrorKind     string     `json:"error_kind,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	UpstreamRunID string     `json:"upstream_run_id,omitempty"`
	Claims        int        `json:"claims"`
	CreatedAt     time.Time  `json:"created_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

func newRunView(run *ledger.Run) runView {
	return runView{
		ID:            run.ID,
		Pipeline:      run.Pipeline,
		Name:          run.Name,
		Cycle:         run.Cycle,
		Status:        string(run.Status),
		Stage:         run.Stage,
		FailedStage:   run.FailedStage,
		ErrorKind:     run.ErrorKind,
		ErrorMessage:  run.ErrorMessage,
		UpstreamRunID: run.UpstreamRunID,
		Claims:        run.Claims,
		CreatedAt:     run.CreatedAt,
		FinishedAt:    run.FinishedAt,
	}
}

func runViews(runs []*ledger.Run) []runView {
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}
	return views
}

func printRunTable(out io.Writer, runs []*ledger.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found")
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		where := run.Stage
		if run.FailedStage != "" {
			where = run.FailedStage
		}
		rows = append(rows, []string{
			shortID(run.ID),
			run.Pipeline,
			run.Name,
			run.Cycle,
			string(run.Status),
			where,
			run.ErrorKind,
			strconv.Itoa(run.Claims),
			run.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	fmt.Fprintln(out, renderTable(runColumns, rows))
	for _, run := range runs {
		if run.ErrorMessage != "" {
			fmt.Fprintf(out, "%s: %s\n", shortID(run.ID), run.ErrorMessage)
		}
	}
}

type handoffView struct {
	Target         string            `json:"target"`
	Conf           map[string]string `json:"conf"`
	UpstreamRunID  string            `json:"upstream_run_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	CreatedAt      time.Time         `json:"created_at"`
}

func handoffViews(records []handoff.Record) []handoffView {
	views := make([]handoffView, 0, len(records))
	for _, r := range records {
		views = append(views, handoffView{
			Target:         r.Target,
			Conf:           r.Conf,
			UpstreamRunID:  r.UpstreamRunID,
			IdempotencyKey: r.IdempotencyKey,
			CreatedAt:      r.CreatedAt,
		})
	}
	return views
}

func printHandoffTable(out io.Writer, records []handoff.Record) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No hand-offs recorded")
		return
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		env := r.Envelope()
		rows = append(rows, []string{
			r.Target,
			env.Name(),
			env.Cycle(),
			shortID(r.UpstreamRunID),
			shortID(r.IdempotencyKey),
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	fmt.Fprintln(out, renderTable(handoffColumns, rows))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
