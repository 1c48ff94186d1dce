package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sheetquery/sheetquery/internal/catalog"
)

const defaultListLimit = 50

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

func (r *Repository) RecordLoad(ctx context.Context, in catalog.RecordLoadInput) (catalog.DatasetLoad, error) {
	if in.LoadID == "" || in.SessionID == "" {
		return catalog.DatasetLoad{}, fmt.Errorf("load id and session id are required")
	}
	columns := in.ColumnsJSON
	if len(columns) == 0 {
		columns = []byte("[]")
	}

	query := `
INSERT INTO dataset_load (load_id, tenant_id, session_id, source_name, format, relation_name, row_count, column_count, columns_json, archive_path)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
RETURNING loaded_at`

	load := catalog.DatasetLoad{
		LoadID:       in.LoadID,
		TenantID:     in.TenantID,
		SessionID:    in.SessionID,
		SourceName:   in.SourceName,
		Format:       in.Format,
		RelationName: in.RelationName,
		RowCount:     in.RowCount,
		ColumnCount:  in.ColumnCount,
		ColumnsJSON:  columns,
		ArchivePath:  in.ArchivePath,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.LoadID,
		in.TenantID,
		in.SessionID,
		in.SourceName,
		in.Format,
		in.RelationName,
		in.RowCount,
		in.ColumnCount,
		string(columns),
		in.ArchivePath,
	).Scan(&load.LoadedAt); err != nil {
		return catalog.DatasetLoad{}, fmt.Errorf("record dataset load: %w", err)
	}
	return load, nil
}

func (r *Repository) GetLoad(ctx context.Context, tenantID, loadID string) (catalog.DatasetLoad, error) {
	query := `
SELECT load_id, tenant_id, session_id, source_name, format, relation_name, row_count, column_count, columns_json, archive_path, loaded_at
FROM dataset_load
WHERE tenant_id = $1 AND load_id = $2`

	load, err := scanLoad(r.db.QueryRowContext(ctx, query, tenantID, loadID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.DatasetLoad{}, catalog.ErrNotFound
		}
		return catalog.DatasetLoad{}, fmt.Errorf("get dataset load: %w", err)
	}
	return load, nil
}

// ListLoads returns the newest loads of a session first.
func (r *Repository) ListLoads(ctx context.Context, tenantID, sessionID string, limit int) ([]catalog.DatasetLoad, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT load_id, tenant_id, session_id, source_name, format, relation_name, row_count, column_count, columns_json, archive_path, loaded_at
FROM dataset_load
WHERE tenant_id = $1 AND session_id = $2
ORDER BY loaded_at DESC
LIMIT $3`, tenantID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list dataset loads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	loads := make([]catalog.DatasetLoad, 0)
	for rows.Next() {
		load, err := scanLoad(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset load row: %w", err)
		}
		loads = append(loads, load)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset load rows: %w", err)
	}
	return loads, nil
}

func (r *Repository) DeleteSessionLoads(ctx context.Context, tenantID, sessionID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM dataset_load
WHERE tenant_id = $1 AND session_id = $2`, tenantID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session loads: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete session loads rows affected: %w", err)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoad(row rowScanner) (catalog.DatasetLoad, error) {
	var (
		load    catalog.DatasetLoad
		columns []byte
	)
	if err := row.Scan(
		&load.LoadID,
		&load.TenantID,
		&load.SessionID,
		&load.SourceName,
		&load.Format,
		&load.RelationName,
		&load.RowCount,
		&load.ColumnCount,
		&columns,
		&load.ArchivePath,
		&load.LoadedAt,
	); err != nil {
		return catalog.DatasetLoad{}, err
	}
	load.ColumnsJSON = columns
	return load, nil
}
