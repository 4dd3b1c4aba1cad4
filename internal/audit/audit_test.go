package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWithoutBucketIsNoop(t *testing.T) {
	a, err := New(context.Background(), "", "auto", "", "", "", zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, a)

	// Nil receiver is valid: archival is a silent no-op.
	a.Archive(context.Background(), map[string]string{"roomId": "r1"})
}

func TestRoomIDFromJSON(t *testing.T) {
	assert.Equal(t, "abc123", roomIDFromJSON([]byte(`{"roomId":"abc123","stake":10}`)))
	assert.Equal(t, "unknown", roomIDFromJSON([]byte(`{"stake":10}`)))
	assert.Equal(t, "unknown", roomIDFromJSON([]byte(`not json`)))
}
