package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sheetquery/sheetquery/internal/catalog"
	"github.com/sheetquery/sheetquery/internal/dataset"
	"github.com/sheetquery/sheetquery/internal/observability"
	"github.com/sheetquery/sheetquery/internal/relation"
)

// Archiver keeps a copy of a materialized upload and returns its location.
type Archiver interface {
	Archive(ctx context.Context, sessionID, loadID string, table dataset.Table) (string, error)
}

// LoadRecorder registers completed loads.
type LoadRecorder interface {
	RecordLoad(ctx context.Context, in catalog.RecordLoadInput) (catalog.DatasetLoad, error)
}

type LoadResult struct {
	LoadID      string           `json:"load_id"`
	Relation    dataset.Relation `json:"relation"`
	ArchivePath string           `json:"archive_path,omitempty"`
}

// Loader turns uploaded files into the session relation. Archiving and
// registration are best effort and never fail a load.
type Loader struct {
	Store      relation.Store
	Options    dataset.Options
	SampleRows int
	Archiver   Archiver
	Recorder   LoadRecorder
	Logger     *slog.Logger
	now        func() time.Time
}

func NewLoader(store relation.Store, opts dataset.Options, sampleRows int, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{Store: store, Options: opts, SampleRows: sampleRows, Logger: logger, now: time.Now}
}

func (l *Loader) Load(ctx context.Context, session *Session, filename string, body io.Reader) (LoadResult, error) {
	result, err := l.load(ctx, session, filename, body)
	observability.ObserveDatasetLoad(result.Relation.RowCount, err)
	return result, err
}

func (l *Loader) load(ctx context.Context, session *Session, filename string, body io.Reader) (LoadResult, error) {
	if session == nil {
		return LoadResult{}, ErrSessionNotFound
	}
	if l.Store == nil {
		return LoadResult{}, fmt.Errorf("relation store is required")
	}
	logger := observability.LoggerFromContext(observability.ContextWithSessionID(ctx, session.ID), l.Logger)

	format, err := dataset.FormatFromFilename(filename)
	if err != nil {
		return LoadResult{}, err
	}
	raw, err := dataset.Parse(body, format)
	if err != nil {
		return LoadResult{}, err
	}
	table, err := dataset.Materialize(raw, l.Options)
	if err != nil {
		return LoadResult{}, err
	}

	rel := dataset.Describe(session.RelationName(), filename, format, table)
	rel.LoadedAt = l.clock().UTC()

	session.mu.Lock()
	if err := l.Store.Replace(ctx, session.RelationName(), table); err != nil {
		session.mu.Unlock()
		return LoadResult{}, fmt.Errorf("store relation: %w", err)
	}
	session.install(rel, table.Sample(l.SampleRows))
	session.mu.Unlock()

	for _, column := range rel.Columns {
		if column.DateParseFailures > 0 {
			logger.Warn("unparseable dates set to null",
				slog.String("column", column.Name),
				slog.Int("failures", column.DateParseFailures),
			)
		}
	}
	logger.Info("dataset loaded",
		slog.String("relation", rel.Name),
		slog.String("source", filename),
		slog.Int("rows", rel.RowCount),
		slog.Int("columns", len(rel.Columns)),
	)

	result := LoadResult{LoadID: uuid.NewString(), Relation: rel}
	if l.Archiver != nil {
		path, err := l.Archiver.Archive(ctx, session.ID, result.LoadID, table)
		if err != nil {
			logger.Warn("archive upload failed", slog.String("load_id", result.LoadID), slog.Any("error", err))
		} else {
			result.ArchivePath = path
		}
	}
	if l.Recorder != nil {
		columns, err := json.Marshal(rel.Columns)
		if err != nil {
			columns = nil
		}
		if _, err := l.Recorder.RecordLoad(ctx, catalog.RecordLoadInput{
			LoadID:       result.LoadID,
			TenantID:     session.TenantID,
			SessionID:    session.ID,
			SourceName:   filename,
			Format:       string(format),
			RelationName: rel.Name,
			RowCount:     int64(rel.RowCount),
			ColumnCount:  len(rel.Columns),
			ColumnsJSON:  columns,
			ArchivePath:  result.ArchivePath,
		}); err != nil {
			logger.Warn("record dataset load failed", slog.String("load_id", result.LoadID), slog.Any("error", err))
		}
	}
	return result, nil
}

func (l *Loader) clock() time.Time {
	if l.now == nil {
		return time.Now()
	}
	return l.now()
}
