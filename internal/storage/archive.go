package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sheetquery/sheetquery/internal/dataset"
)

const parquetContentType = "application/vnd.apache.parquet"

// ParquetArchiver keeps a parquet copy of every materialized upload.
type ParquetArchiver struct {
	Store ObjectStore
}

func NewParquetArchiver(store ObjectStore) *ParquetArchiver {
	return &ParquetArchiver{Store: store}
}

// Archive encodes table and stores it under the session's load path. It
// returns the object key.
func (a *ParquetArchiver) Archive(ctx context.Context, sessionID, loadID string, table dataset.Table) (string, error) {
	if a == nil || a.Store == nil {
		return "", fmt.Errorf("object store is required")
	}
	key, err := BuildArchivePath(sessionID, loadID)
	if err != nil {
		return "", err
	}
	body, err := dataset.EncodeParquet(table)
	if err != nil {
		return "", fmt.Errorf("encode archive: %w", err)
	}
	if _, err := a.Store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), PutOptions{ContentType: parquetContentType}); err != nil {
		return "", fmt.Errorf("store archive: %w", err)
	}
	return key, nil
}

// Open streams one archived load back to the caller.
func (a *ParquetArchiver) Open(ctx context.Context, sessionID, loadID string) (io.ReadCloser, ObjectInfo, error) {
	if a == nil || a.Store == nil {
		return nil, ObjectInfo{}, ErrObjectNotFound
	}
	key, err := BuildArchivePath(sessionID, loadID)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	info, err := a.Store.Stat(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	body, err := a.Store.Get(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	return body, info, nil
}

// Purge deletes every archive of a session and reports how many were removed.
func (a *ParquetArchiver) Purge(ctx context.Context, sessionID string) (int, error) {
	if a == nil || a.Store == nil {
		return 0, nil
	}
	prefix, err := SessionPrefix(sessionID)
	if err != nil {
		return 0, err
	}
	objects, err := a.Store.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list session archives: %w", err)
	}
	var errs []error
	removed := 0
	for _, object := range objects {
		if err := a.Store.Delete(ctx, object.Key); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
