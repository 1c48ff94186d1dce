package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sheetquery/sheetquery/internal/dataset"
	"github.com/sheetquery/sheetquery/internal/nl2sql"
	"github.com/sheetquery/sheetquery/internal/observability"
	"github.com/sheetquery/sheetquery/internal/relation"
)

// State is a step of the question pipeline.
type State string

const (
	StateIdle             State = "idle"
	StatePromptBuilt      State = "prompt_built"
	StateResponseReceived State = "response_received"
	StateSanitized        State = "sanitized"
	StateExecuted         State = "executed"
	StateFailed           State = "failed"
)

// Class names why a question failed.
type Class string

const (
	ClassNoDataset          Class = "no_dataset"
	ClassServiceUnavailable Class = "service_unavailable"
	ClassComprehension      Class = "comprehension"
	ClassExecution          Class = "execution"
)

var ErrEmptyQuestion = errors.New("question is empty")

// Outcome is the terminal result of one question. Only the fields relevant
// to State and Class are set: RawResponse for comprehension failures, SQL and
// EngineError for execution failures.
type Outcome struct {
	Question    string
	State       State
	Class       Class
	SQL         string
	RawResponse string
	EngineError string
	ErrorKind   relation.Kind
	Result      *relation.Result
	NoData      bool
	Repaired    bool
	Provider    string
	Model       string
	Err         error
}

func (o Outcome) Succeeded() bool {
	return o.State == StateExecuted
}

// Pipeline answers questions against a session relation. It never retries
// generation; the only second attempt is the optional repair after an
// execution error.
type Pipeline struct {
	Generator              nl2sql.Generator
	Executor               *relation.Executor
	Dialect                nl2sql.Dialect
	RepairOnExecutionError bool
	Logger                 *slog.Logger
}

func NewPipeline(generator nl2sql.Generator, executor *relation.Executor, dialect nl2sql.Dialect, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{Generator: generator, Executor: executor, Dialect: dialect, Logger: logger}
}

// Ask runs one question to completion. Questions on the same session are
// serialized.
func (p *Pipeline) Ask(ctx context.Context, session *Session, question string) Outcome {
	ctx = observability.ContextWithSessionID(ctx, session.ID)
	logger := observability.LoggerFromContext(ctx, p.Logger)

	session.askMu.Lock()
	defer session.askMu.Unlock()

	question = strings.TrimSpace(question)
	var outcome Outcome
	var used *dataset.Relation
	if question == "" {
		outcome = Outcome{State: StateFailed, Class: ClassComprehension, Err: ErrEmptyQuestion}
	} else {
		outcome, used = p.run(ctx, logger, session, question)
	}
	outcome.Question = question

	if outcome.Result != nil {
		session.setLastResultFor(used, *outcome.Result)
	}
	entry := Exchange{
		Question:    question,
		State:       outcome.State,
		Class:       outcome.Class,
		SQL:         outcome.SQL,
		EngineError: outcome.EngineError,
		Repaired:    outcome.Repaired,
		AskedAt:     time.Now().UTC(),
	}
	if outcome.Result != nil {
		entry.RowCount = len(outcome.Result.Rows)
	}
	session.appendHistory(entry)

	observability.ObserveQuestion(string(outcome.State), string(outcome.Class))
	if outcome.State == StateFailed {
		logger.Warn("question failed",
			slog.String("class", string(outcome.Class)),
			slog.String("sql", outcome.SQL),
			slog.String("engine_error", outcome.EngineError),
			slog.Any("error", outcome.Err),
		)
	} else {
		logger.Info("question answered",
			slog.Int("rows", entry.RowCount),
			slog.Bool("no_data", outcome.NoData),
			slog.Bool("repaired", outcome.Repaired),
		)
	}
	return outcome
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, session *Session, question string) (Outcome, *dataset.Relation) {
	session.mu.RLock()
	defer session.mu.RUnlock()

	rel := session.relation
	if rel == nil {
		return Outcome{State: StateFailed, Class: ClassNoDataset, Err: ErrNoDataset}, nil
	}
	logger.Debug("pipeline state", slog.String("state", string(StateIdle)), slog.String("relation", rel.Name))

	prompt, err := nl2sql.BuildPrompt(nl2sql.PromptInput{
		Question:   question,
		Relation:   rel.Name,
		Columns:    rel.Columns,
		Mapping:    session.mapping,
		SampleRows: session.sample,
		Dialect:    p.Dialect,
	})
	if err != nil {
		return Outcome{State: StateFailed, Class: ClassComprehension, Err: err}, rel
	}
	logger.Debug("pipeline state", slog.String("state", string(StatePromptBuilt)))

	attempt := p.attempt(ctx, logger, rel.Name, prompt)
	if attempt.Class != ClassExecution || !p.RepairOnExecutionError {
		return attempt, rel
	}

	observability.IncrementRepairAttempts()
	logger.Debug("repairing query", slog.String("sql", attempt.SQL), slog.String("engine_error", attempt.EngineError))
	repaired := p.attempt(ctx, logger, rel.Name, nl2sql.RepairPrompt(prompt, attempt.SQL, attempt.EngineError))
	switch repaired.Class {
	case ClassServiceUnavailable, ClassComprehension:
		// The repair produced nothing runnable; report the original failure.
		return attempt, rel
	}
	repaired.Repaired = true
	return repaired, rel
}

// attempt performs one generate, sanitize and execute pass.
func (p *Pipeline) attempt(ctx context.Context, logger *slog.Logger, relationName string, prompt nl2sql.Prompt) Outcome {
	if p.Generator == nil {
		return Outcome{State: StateFailed, Class: ClassServiceUnavailable, Err: fmt.Errorf("generator is not configured")}
	}
	start := time.Now()
	response, err := p.Generator.Generate(ctx, nl2sql.Request{System: prompt.System, Prompt: prompt.User})
	observability.ObserveGeneration(response.Provider, time.Since(start), err)
	if err != nil {
		return Outcome{State: StateFailed, Class: ClassServiceUnavailable, Err: fmt.Errorf("generate query: %w", err)}
	}
	logger.Debug("pipeline state",
		slog.String("state", string(StateResponseReceived)),
		slog.String("provider", response.Provider),
		slog.String("model", response.Model),
	)

	outcome := Outcome{Provider: response.Provider, Model: response.Model}
	sqlText, ok := nl2sql.Sanitize(response.Text)
	if !ok {
		observability.IncrementSanitizerRejections()
		outcome.State = StateFailed
		outcome.Class = ClassComprehension
		outcome.RawResponse = response.Text
		outcome.Err = fmt.Errorf("response contains no query")
		return outcome
	}
	outcome.SQL = sqlText
	logger.Debug("pipeline state", slog.String("state", string(StateSanitized)), slog.String("sql", sqlText))

	if p.Executor == nil {
		outcome.State = StateFailed
		outcome.Class = ClassExecution
		outcome.Err = fmt.Errorf("executor is not configured")
		outcome.EngineError = outcome.Err.Error()
		return outcome
	}
	result, err := p.Executor.Execute(ctx, relationName, sqlText)
	observability.ObserveQuery(result.Duration)
	if err != nil && !relation.IsEmptyResult(err) {
		outcome.State = StateFailed
		outcome.Class = ClassExecution
		outcome.Err = err
		outcome.ErrorKind = relation.KindOther
		outcome.EngineError = err.Error()
		var execErr *relation.ExecError
		if errors.As(err, &execErr) {
			outcome.ErrorKind = execErr.Kind
			if execErr.Err != nil {
				outcome.EngineError = execErr.Err.Error()
			}
		}
		return outcome
	}

	outcome.State = StateExecuted
	outcome.Result = &result
	outcome.NoData = len(result.Rows) == 0
	logger.Debug("pipeline state", slog.String("state", string(StateExecuted)), slog.Int("rows", len(result.Rows)))
	return outcome
}
