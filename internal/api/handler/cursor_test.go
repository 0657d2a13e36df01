package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/cuongbtq/vidgen/internal/api/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCursor(t *testing.T) {
	completedAt := time.Date(2026, 2, 3, 4, 5, 6, 789, time.UTC)
	encoded := EncodeJobCursor(&storage.JobCursor{CompletedAt: completedAt, JobID: "job|with|pipes"})

	cursor, err := DecodeJobCursor(encoded)
	require.NoError(t, err)
	assert.True(t, completedAt.Equal(cursor.CompletedAt))
	assert.Equal(t, "job|with|pipes", cursor.JobID)
}

func TestDecodeJobCursor_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{name: "not base64", cursor: "***"},
		{name: "missing separator", cursor: base64.RawURLEncoding.EncodeToString([]byte("12345"))},
		{name: "empty job id", cursor: base64.RawURLEncoding.EncodeToString([]byte("12345|"))},
		{name: "bad timestamp", cursor: base64.RawURLEncoding.EncodeToString([]byte("yesterday|abc"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJobCursor(tt.cursor)
			assert.Error(t, err)
		})
	}

	cursor, err := DecodeJobCursor("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}
