package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camforge/camforge/internal/queue"
	"github.com/camforge/camforge/internal/store/model"
)

// ReportPayload selects which sections of the parent job output to include.
type ReportPayload struct {
	Title    string   `json:"title"`
	Sections []string `json:"sections,omitempty"`
}

// ReportTask summarizes the artefacts of a finished parent job. Fetches are
// checksum verified, a corrupted artefact fails the report rather than
// producing a silently wrong one.
type ReportTask struct {
	deps Deps
}

var _ queue.Task = (*ReportTask)(nil)

func NewReportTask(deps Deps) *ReportTask {
	return &ReportTask{deps: deps}
}

func (t *ReportTask) Run(ctx context.Context, job *model.Job) queue.Outcome {
	var payload ReportPayload
	if err := decodePayload(job, &payload); err != nil {
		return queue.Fatal(err, model.JobMetrics{})
	}
	if job.ParentJobID == nil {
		return queue.Fatal(fmt.Errorf("report job %s has no parent job", job.ID), model.JobMetrics{})
	}

	parent, err := t.deps.ParentJobs.Get(ctx, *job.ParentJobID)
	if err != nil {
		return queue.Retryable(fmt.Errorf("load parent job %s: %w", *job.ParentJobID, err), model.JobMetrics{})
	}
	if parent.Status != model.JobStatusSucceeded {
		return queue.Fatal(fmt.Errorf("parent job %s is %s, reports need a succeeded parent", parent.ID, parent.Status), model.JobMetrics{})
	}
	if parent.Artefacts == nil || len(parent.Artefacts.Data) == 0 {
		return queue.Fatal(fmt.Errorf("parent job %s left no artefacts", parent.ID), model.JobMetrics{})
	}

	start := time.Now()
	sections := make([]map[string]any, 0, len(parent.Artefacts.Data))
	for _, artefact := range parent.Artefacts.Data {
		if !sectionWanted(payload.Sections, artefact.Kind) {
			continue
		}

		var buf bytes.Buffer
		if err := t.deps.Artifacts.Fetch(ctx, artefact, &buf); err != nil {
			return queue.Retryable(fmt.Errorf("fetch artefact %s: %w", artefact.Key, err), model.JobMetrics{})
		}

		var content map[string]any
		if err := json.Unmarshal(buf.Bytes(), &content); err != nil {
			return queue.Fatal(fmt.Errorf("artefact %s is not valid JSON: %w", artefact.Key, err), model.JobMetrics{})
		}
		sections = append(sections, map[string]any{
			"kind":    artefact.Kind,
			"key":     artefact.Key,
			"size":    artefact.Size,
			"content": content,
		})
	}
	if len(sections) == 0 {
		return queue.Fatal(fmt.Errorf("no artefacts matched the requested sections"), model.JobMetrics{})
	}

	metrics := model.JobMetrics{ElapsedMs: time.Since(start).Milliseconds()}
	result := map[string]any{
		"title":        payload.Title,
		"parent_job":   parent.ID.String(),
		"parent_type":  parent.Type,
		"sections":     sections,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	}

	artefact, err := uploadResult(ctx, t.deps, job, "report", result)
	if err != nil {
		return queue.Retryable(fmt.Errorf("store report: %w", err), metrics)
	}
	return queue.Success(metrics, []model.Artefact{*artefact})
}

func sectionWanted(sections []string, kind string) bool {
	if len(sections) == 0 {
		return true
	}
	for _, s := range sections {
		if s == kind {
			return true
		}
	}
	return false
}
