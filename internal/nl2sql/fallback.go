package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SelectCandidates keeps the preferred order, drops blanks and duplicates and,
// when available is non-empty, drops models the service did not list.
func SelectCandidates(preferred, available []string) []string {
	listed := make(map[string]bool, len(available))
	for _, model := range available {
		listed[normalizeModel(model)] = true
	}

	seen := make(map[string]bool, len(preferred))
	selected := make([]string, 0, len(preferred))
	for _, model := range preferred {
		model = normalizeModel(model)
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true
		if len(listed) > 0 && !listed[model] {
			continue
		}
		selected = append(selected, model)
	}
	return selected
}

func normalizeModel(model string) string {
	return strings.TrimPrefix(strings.TrimSpace(model), "models/")
}

type Candidate struct {
	Model     string
	Generator Generator
}

// FallbackGenerator tries each candidate in order and returns the first
// success.
type FallbackGenerator struct {
	Candidates []Candidate
	Logger     *slog.Logger
}

func (f *FallbackGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	if len(f.Candidates) == 0 {
		return Response{}, fmt.Errorf("no generation models configured")
	}
	errs := make([]error, 0, len(f.Candidates))
	for _, candidate := range f.Candidates {
		start := time.Now()
		resp, err := candidate.Generator.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		if f.Logger != nil {
			f.Logger.Warn("generation model failed", "model", candidate.Model, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", candidate.Model, err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, errors.Join(append(errs, ctxErr)...)
		}
	}
	return Response{}, fmt.Errorf("all generation models failed: %w", errors.Join(errs...))
}
