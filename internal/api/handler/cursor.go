package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/vidgen/internal/api/storage"
)

// DecodeJobCursor parses an opaque history cursor; empty means first page
func DecodeJobCursor(cursorStr string) (*storage.JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var completedAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &completedAt); err != nil {
		return nil, fmt.Errorf("invalid completedAt in cursor: %w", err)
	}

	return &storage.JobCursor{
		CompletedAt: time.Unix(0, completedAt).UTC(),
		JobID:       parts[1],
	}, nil
}

func EncodeJobCursor(cursor *storage.JobCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CompletedAt.UnixNano(), cursor.JobID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
