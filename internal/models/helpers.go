package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a prefixed unique identifier, e.g. quote_9f1c...
func GenerateID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// GetCurrentTime returns the current time in UTC
func GetCurrentTime() time.Time {
	return time.Now().UTC()
}
