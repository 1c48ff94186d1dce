package storage

import (
	"fmt"
	"path"
	"regexp"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// SessionPrefix is the key prefix holding every archive of a session.
func SessionPrefix(sessionID string) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	return path.Join("sessions", sessionID) + "/", nil
}

// BuildArchivePath returns sessions/<session>/loads/<load>.parquet.
func BuildArchivePath(sessionID, loadID string) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(loadID, "load id"); err != nil {
		return "", err
	}
	return path.Join("sessions", sessionID, "loads", loadID+".parquet"), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
