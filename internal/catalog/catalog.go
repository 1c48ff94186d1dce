package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

// Repository is the registry of dataset loads. It never stores generated
// queries or their results.
type Repository interface {
	HealthCheck(ctx context.Context) error
	RecordLoad(ctx context.Context, in RecordLoadInput) (DatasetLoad, error)
	GetLoad(ctx context.Context, tenantID, loadID string) (DatasetLoad, error)
	ListLoads(ctx context.Context, tenantID, sessionID string, limit int) ([]DatasetLoad, error)
	DeleteSessionLoads(ctx context.Context, tenantID, sessionID string) (int64, error)
}

type DatasetLoad struct {
	LoadID       string    `json:"load_id"`
	TenantID     string    `json:"tenant_id"`
	SessionID    string    `json:"session_id"`
	SourceName   string    `json:"source_name"`
	Format       string    `json:"format"`
	RelationName string    `json:"relation_name"`
	RowCount     int64     `json:"row_count"`
	ColumnCount  int       `json:"column_count"`
	ColumnsJSON  []byte    `json:"-"`
	ArchivePath  string    `json:"archive_path,omitempty"`
	LoadedAt     time.Time `json:"loaded_at"`
}

type RecordLoadInput struct {
	LoadID       string
	TenantID     string
	SessionID    string
	SourceName   string
	Format       string
	RelationName string
	RowCount     int64
	ColumnCount  int
	ColumnsJSON  []byte
	ArchivePath  string
}
