package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInspectReadsHeaders(t *testing.T) {
	rec := inspect([]byte("cust-42"), []byte(`{"bad"`), map[string]string{
		"dlq-origin": "purifier-console-projector",
		"reason":     "projector_deser_failed",
		"published":  "2025-06-01T00:00:00Z",
	})

	assert.Equal(t, "cust-42", rec.Key)
	assert.Equal(t, "purifier-console-projector", rec.Origin)
	assert.Equal(t, "projector_deser_failed", rec.Reason)
	assert.Equal(t, `{"bad"`, rec.Preview)
	assert.Equal(t, 6, rec.Size)
}

func TestInspectDefaultsAndTruncates(t *testing.T) {
	payload := strings.Repeat("x", previewLimit+10)
	rec := inspect(nil, []byte(payload), map[string]string{})

	assert.Equal(t, "inconnue", rec.Origin)
	assert.Equal(t, "non précisé", rec.Reason)
	assert.Equal(t, previewLimit+10, rec.Size)
	assert.True(t, strings.HasSuffix(rec.Preview, "…"))
	assert.Len(t, rec.Preview, previewLimit+len("…"))
}
