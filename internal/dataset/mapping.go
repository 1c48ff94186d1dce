package dataset

import (
	"fmt"
	"sort"
	"strings"
)

// LogicalRole is a business meaning a user can bind to one column.
type LogicalRole string

const (
	LogicalDate   LogicalRole = "date"
	LogicalAmount LogicalRole = "amount"
	LogicalEntity LogicalRole = "entity"
	LogicalRegion LogicalRole = "region"
)

var logicalRoles = []LogicalRole{LogicalDate, LogicalAmount, LogicalEntity, LogicalRegion}

func ParseLogicalRole(raw string) (LogicalRole, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch normalized {
	case "entity_name", "entity name", "name":
		return LogicalEntity, nil
	}
	for _, role := range logicalRoles {
		if string(role) == normalized {
			return role, nil
		}
	}
	return "", fmt.Errorf("unknown logical role %q", raw)
}

// SemanticMapping binds logical roles to canonical column names.
type SemanticMapping map[LogicalRole]string

type MappingEntry struct {
	Role   LogicalRole `json:"role"`
	Column string      `json:"column"`
}

// Validate checks that every bound column exists and that no column plays
// more than one role.
func (m SemanticMapping) Validate(columns []Column) error {
	known := make(map[string]bool, len(columns))
	for _, column := range columns {
		known[column.Name] = true
	}
	boundBy := make(map[string]LogicalRole, len(m))
	for _, entry := range m.Entries() {
		if entry.Column == "" {
			return fmt.Errorf("role %q has no column", entry.Role)
		}
		if !known[entry.Column] {
			return fmt.Errorf("role %q references unknown column %q", entry.Role, entry.Column)
		}
		if other, ok := boundBy[entry.Column]; ok {
			return fmt.Errorf("column %q is bound to both %q and %q", entry.Column, other, entry.Role)
		}
		boundBy[entry.Column] = entry.Role
	}
	return nil
}

// Entries returns the bindings in a stable role order.
func (m SemanticMapping) Entries() []MappingEntry {
	entries := make([]MappingEntry, 0, len(m))
	for role, column := range m {
		entries = append(entries, MappingEntry{Role: role, Column: column})
	}
	sort.Slice(entries, func(i, j int) bool {
		return roleRank(entries[i].Role) < roleRank(entries[j].Role)
	})
	return entries
}

func roleRank(role LogicalRole) int {
	for i, known := range logicalRoles {
		if known == role {
			return i
		}
	}
	return len(logicalRoles)
}

// ParseMapping accepts "role=column" pairs, the form the CLI sends.
func ParseMapping(pairs []string) (SemanticMapping, error) {
	mapping := SemanticMapping{}
	for _, pair := range pairs {
		rawRole, column, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("mapping %q must look like role=column", pair)
		}
		role, err := ParseLogicalRole(rawRole)
		if err != nil {
			return nil, err
		}
		if _, exists := mapping[role]; exists {
			return nil, fmt.Errorf("role %q is mapped twice", role)
		}
		mapping[role] = strings.TrimSpace(column)
	}
	return mapping, nil
}

// Describe builds the relation descriptor for a materialized table.
func Describe(name, sourceName string, format Format, table Table) Relation {
	columns := make([]Column, len(table.Columns))
	copy(columns, table.Columns)
	return Relation{
		Name:       name,
		SourceName: sourceName,
		Format:     format,
		Columns:    columns,
		RowCount:   len(table.Rows),
	}
}
