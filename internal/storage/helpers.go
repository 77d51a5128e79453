package storage

import (
	"errors"
	"time"
)

// NullableString converts empty strings to NULL for inserts.
func NullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// NullableTime converts nil times to NULL, otherwise RFC3339Nano UTC text.
func NullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

// BoolToInt maps bool onto the 0/1 integers SQLite stores.
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// FormatTime renders a timestamp in the canonical column format.
func FormatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

// ParseTime reads timestamps written by FormatTime, tolerating the legacy
// space-separated format.
func ParseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

// MakePlaceholders renders "?,?,..." for IN clauses.
func MakePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
