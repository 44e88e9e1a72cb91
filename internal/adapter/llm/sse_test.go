package llm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragline/internal/domain"
)

func parseAll(t *testing.T, body string) []domain.Chunk {
	t.Helper()
	ch := parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(body)), parseOpenAIChunk)
	var chunks []domain.Chunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestParseSSEStreamSkipsNoise(t *testing.T) {
	body := ": keepalive comment\n" +
		"\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n" +
		"data: not json at all\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n" +
		"data: [DONE]\n"

	chunks := parseAll(t, body)

	var contents []string
	for _, c := range chunks {
		require.NoError(t, c.Err)
		if c.Content != "" {
			contents = append(contents, c.Content)
		}
	}
	assert.Equal(t, []string{"a", "b"}, contents, "unparseable payloads are skipped, not fatal")

	last := chunks[len(chunks)-1]
	assert.True(t, last.Done, "[DONE] terminates the stream")
}

func TestParseSSEStreamEndsOnEOF(t *testing.T) {
	chunks := parseAll(t, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n")
	require.Len(t, chunks, 1)
	assert.Equal(t, "x", chunks[0].Content)
}

type countingBody struct {
	io.Reader
	closes atomic.Int32
}

func (c *countingBody) Close() error {
	c.closes.Add(1)
	return nil
}

func TestParseSSEStreamAbandonedAfterCancel(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&sb, "data: {\"choices\":[{\"delta\":{\"content\":\"c%d\"}}]}\n", i)
	}
	body := &countingBody{Reader: strings.NewReader(sb.String())}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := parseSSEStream(ctx, body, parseOpenAIChunk)

	<-ch
	cancel()
	// The channel is deliberately never drained: the producer must still
	// exit and run its deferred body close (the cancel hook accounts for
	// the first close).
	assert.Eventually(t, func() bool { return body.closes.Load() >= 2 },
		time.Second, 10*time.Millisecond,
		"producer must exit when a cancelled stream is abandoned")
}
