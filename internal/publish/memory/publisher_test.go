package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRecordsMessages(t *testing.T) {
	t.Parallel()
	p := New()
	ctx := context.Background()

	id, err := p.Publish(ctx, "crawl-events", map[string]any{"slug": "rioja"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id)

	id, err = p.Publish(ctx, "crawl-events", map[string]any{"slug": "other"})
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id)

	messages := p.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "crawl-events", messages[0].Topic)
	require.NoError(t, p.Close())
}
