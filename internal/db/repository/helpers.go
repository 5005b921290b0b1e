// Package repository implements domain repository interfaces using SQLite.
package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"freight-insights/internal/domain"
)

// timeFormat is the canonical UTC timestamp layout stored in the metastore.
const timeFormat = "2006-01-02 15:04:05"

func newID() string {
	return uuid.NewString()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		slog.Default().Warn("failed to parse stored timestamp", "value", s, "error", err)
	}
	return t
}

func marshalJSON(v interface{}) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		slog.Default().Warn("failed to marshal column", "error", err)
		return "null"
	}
	return string(b)
}

func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Message: "resource not found"}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &domain.ConflictError{Message: "resource already exists"}
	}
	return err
}
