package tasks

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/camforge/camforge/internal/queue"
	"github.com/camforge/camforge/internal/store/model"
)

// CAMPayload describes toolpath generation for one setup.
type CAMPayload struct {
	Stock struct {
		Size [3]float64 `json:"size"`
	} `json:"stock"`
	Tool struct {
		Diameter float64 `json:"diameter"`
		FeedRate float64 `json:"feed_rate"`
		StepDown float64 `json:"step_down"`
	} `json:"tool"`
	Operations []struct {
		Kind  string  `json:"kind"`
		Depth float64 `json:"depth"`
	} `json:"operations"`
}

// CAMTask generates toolpaths in process, no engine round trip needed.
type CAMTask struct {
	deps Deps
}

var _ queue.Task = (*CAMTask)(nil)

func NewCAMTask(deps Deps) *CAMTask {
	return &CAMTask{deps: deps}
}

func (t *CAMTask) Run(ctx context.Context, job *model.Job) queue.Outcome {
	var payload CAMPayload
	if err := decodePayload(job, &payload); err != nil {
		return queue.Fatal(err, model.JobMetrics{})
	}
	if payload.Tool.Diameter <= 0 || payload.Tool.FeedRate <= 0 || payload.Tool.StepDown <= 0 {
		return queue.Fatal(fmt.Errorf("tool definition must have positive diameter, feed rate and step down"), model.JobMetrics{})
	}
	if len(payload.Operations) == 0 {
		return queue.Fatal(fmt.Errorf("no operations to generate toolpaths for"), model.JobMetrics{})
	}

	start := time.Now()
	passes := make([]map[string]any, 0, len(payload.Operations))
	var totalLength, totalMinutes float64

	for i, op := range payload.Operations {
		if err := ctx.Err(); err != nil {
			return queue.Retryable(err, model.JobMetrics{})
		}
		if op.Depth <= 0 {
			return queue.Fatal(fmt.Errorf("operation %d has non-positive depth", i), model.JobMetrics{})
		}

		layers := int(math.Ceil(op.Depth / payload.Tool.StepDown))
		// one boustrophedon sweep over the stock footprint per layer
		stepOver := payload.Tool.Diameter * 0.5
		sweeps := math.Ceil(payload.Stock.Size[1]/stepOver) + 1
		lengthPerLayer := sweeps * payload.Stock.Size[0]
		length := lengthPerLayer * float64(layers)
		minutes := length / payload.Tool.FeedRate

		totalLength += length
		totalMinutes += minutes
		passes = append(passes, map[string]any{
			"operation":   op.Kind,
			"layers":      layers,
			"path_length": math.Round(length*100) / 100,
			"minutes":     math.Round(minutes*100) / 100,
		})
	}

	metrics := model.JobMetrics{ElapsedMs: time.Since(start).Milliseconds()}
	result := map[string]any{
		"passes":            passes,
		"total_path_length": math.Round(totalLength*100) / 100,
		"estimated_minutes": math.Round(totalMinutes*100) / 100,
	}

	artefact, err := uploadResult(ctx, t.deps, job, "toolpaths", result)
	if err != nil {
		return queue.Retryable(fmt.Errorf("store toolpaths: %w", err), metrics)
	}
	return queue.Success(metrics, []model.Artefact{*artefact})
}
