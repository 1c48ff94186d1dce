package dataset

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// ParquetSchema maps value columns to optional doubles and every other
// column to optional strings.
func ParquetSchema(columns []Column) *parquet.Schema {
	group := parquet.Group{}
	for _, column := range columns {
		if column.Role == RoleValue {
			group[column.Name] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
			continue
		}
		group[column.Name] = parquet.Optional(parquet.String())
	}
	return parquet.NewSchema("relation", group)
}

// EncodeParquet writes the table as a single parquet file.
func EncodeParquet(table Table) ([]byte, error) {
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("columns are required")
	}

	schema := ParquetSchema(table.Columns)
	leafIndex := make([]int, len(table.Columns))
	for i, column := range table.Columns {
		leaf, ok := schema.Lookup(column.Name)
		if !ok {
			return nil, fmt.Errorf("column %q missing from parquet schema", column.Name)
		}
		leafIndex[i] = leaf.ColumnIndex
	}

	rows := make([]parquet.Row, 0, len(table.Rows))
	for rowIndex, record := range table.Rows {
		row := make(parquet.Row, len(table.Columns))
		for i, column := range table.Columns {
			var cell any
			if i < len(record) {
				cell = record[i]
			}
			value, err := parquetValue(column, cell, leafIndex[i])
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", rowIndex, column.Name, err)
			}
			row[leafIndex[i]] = value
		}
		rows = append(rows, row)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func parquetValue(column Column, cell any, columnIndex int) (parquet.Value, error) {
	if cell == nil {
		return parquet.NullValue().Level(0, 0, columnIndex), nil
	}
	switch typed := cell.(type) {
	case float64:
		if column.Role != RoleValue {
			return parquet.Value{}, fmt.Errorf("numeric cell in text column")
		}
		return parquet.DoubleValue(typed).Level(0, 1, columnIndex), nil
	case string:
		if column.Role == RoleValue {
			return parquet.Value{}, fmt.Errorf("text cell in value column")
		}
		return parquet.ByteArrayValue([]byte(typed)).Level(0, 1, columnIndex), nil
	default:
		return parquet.Value{}, fmt.Errorf("unsupported cell type %T", cell)
	}
}
