package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragline/internal/domain"
	"ragline/internal/infra/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRequester(t *testing.T, handler http.HandlerFunc) *OpenAIRequester {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIRequester("test", config.CredentialSet{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
	}, config.PoolConfig{}, testLogger())
}

func sseHandler(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}
}

func collect(t *testing.T, ch <-chan domain.Chunk) (chunks []domain.Chunk, terminal error) {
	t.Helper()
	for chunk := range ch {
		if chunk.Err != nil {
			return chunks, chunk.Err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func TestCompleteStreamDeliversInOrder(t *testing.T) {
	r := newTestRequester(t, sseHandler(
		`{"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		`[DONE]`,
	))

	ch, err := r.CompleteStream(context.Background(), domain.CompletionRequest{Model: "gpt-4o"})
	require.NoError(t, err)

	chunks, terminal := collect(t, ch)
	require.NoError(t, terminal)
	require.GreaterOrEqual(t, len(chunks), 3)

	assert.Equal(t, "Hel", chunks[0].Content)
	assert.Equal(t, "assistant", chunks[0].Role)
	assert.Equal(t, "lo", chunks[1].Content)

	final := chunks[2]
	assert.True(t, final.Done)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 7, final.Usage.TotalTokens)
}

func TestCompleteStreamToolCallDelta(t *testing.T) {
	r := newTestRequester(t, sseHandler(
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"lookup","arguments":"{\"q\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"x\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	))

	ch, err := r.CompleteStream(context.Background(), domain.CompletionRequest{Model: "gpt-4o"})
	require.NoError(t, err)

	chunks, terminal := collect(t, ch)
	require.NoError(t, terminal)
	require.NotEmpty(t, chunks)

	require.Len(t, chunks[0].ToolCalls, 1)
	assert.Equal(t, "call_1", chunks[0].ToolCalls[0].ID)
	assert.Equal(t, "lookup", chunks[0].ToolCalls[0].Name)
	assert.Equal(t, `{"q":`, chunks[0].ToolCalls[0].Arguments)
}

func TestCompleteStreamContentFilter(t *testing.T) {
	r := newTestRequester(t, sseHandler(
		`{"choices":[{"delta":{"content":"par"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"content_filter"}]}`,
	))

	ch, err := r.CompleteStream(context.Background(), domain.CompletionRequest{Model: "gpt-4o"})
	require.NoError(t, err)

	_, terminal := collect(t, ch)
	require.Error(t, terminal)
	assert.ErrorIs(t, terminal, domain.ErrUnsafeContent)
	assert.NotErrorIs(t, terminal, domain.ErrAPIRequest)
}

func TestCompleteStreamSafetyRejectionAtInitiation(t *testing.T) {
	r := newTestRequester(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"blocked by content management policy"}}`)
	})

	_, err := r.CompleteStream(context.Background(), domain.CompletionRequest{Model: "gpt-4o"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsafeContent)
}

func TestCompleteStreamTransportFailure(t *testing.T) {
	r := newTestRequester(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := r.CompleteStream(context.Background(), domain.CompletionRequest{Model: "gpt-4o"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAPIRequest)
}

func TestCompleteStreamCancellation(t *testing.T) {
	r := newTestRequester(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		flusher.Flush()
		<-req.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := r.CompleteStream(ctx, domain.CompletionRequest{Model: "gpt-4o"})
	require.NoError(t, err)

	first := <-ch
	require.NoError(t, first.Err)
	assert.Equal(t, "first", first.Content)

	cancel()

	var terminal error
	deadline := time.After(2 * time.Second)
	for terminal == nil {
		select {
		case chunk, ok := <-ch:
			if !ok {
				t.Fatal("stream closed without a terminal error")
			}
			terminal = chunk.Err
		case <-deadline:
			t.Fatal("timed out waiting for aborted chunk")
		}
	}
	assert.ErrorIs(t, terminal, domain.ErrAborted)
	assert.NotErrorIs(t, terminal, domain.ErrAPIRequest)
}

func TestCompleteStreamAbandonedAfterCancel(t *testing.T) {
	lines := make([]string, 100)
	for i := range lines {
		lines[i] = fmt.Sprintf(`{"choices":[{"delta":{"content":"c%d"}}]}`, i)
	}
	r := newTestRequester(t, sseHandler(lines...))

	before := runtime.NumGoroutine()
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		ch, err := r.CompleteStream(ctx, domain.CompletionRequest{Model: "gpt-4o"})
		require.NoError(t, err)
		<-ch
		cancel()
		// The channel is deliberately never drained.
	}

	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before+4 },
		2*time.Second, 20*time.Millisecond,
		"forwarding goroutines must exit when cancelled streams are abandoned")
}

func TestCompleteStreamInvalidToolSchema(t *testing.T) {
	r := newTestRequester(t, sseHandler(`[DONE]`))

	_, err := r.CompleteStream(context.Background(), domain.CompletionRequest{
		Model: "gpt-4o",
		Tools: []domain.ToolSchema{{Name: "broken", Parameters: []byte(`{"type"`)}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEmbedOrderPreserving(t *testing.T) {
	r := newTestRequester(t, func(w http.ResponseWriter, _ *http.Request) {
		// Out-of-order indices on purpose.
		fmt.Fprint(w, `{"data":[
			{"index":1,"embedding":[0.2]},
			{"index":0,"embedding":[0.1]},
			{"index":2,"embedding":[0.3]}
		]}`)
	})

	vecs, err := r.Embed(context.Background(), "text-embedding-3-small", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(0.1), vecs[0][0])
	assert.Equal(t, float32(0.2), vecs[1][0])
	assert.Equal(t, float32(0.3), vecs[2][0])
}

func TestEmbedShortResponseRejected(t *testing.T) {
	r := newTestRequester(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[0.1]}]}`)
	})

	_, err := r.Embed(context.Background(), "text-embedding-3-small", []string{"a", "b", "c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailed, "a short batch must never be returned silently")
}

func TestEmbedEmptyInput(t *testing.T) {
	r := newTestRequester(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected for empty input")
	})
	vecs, err := r.Embed(context.Background(), "m", nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestListModels(t *testing.T) {
	r := newTestRequester(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
		fmt.Fprint(w, `{"data":[{"id":"gpt-4o"},{"id":"text-embedding-3-small"}]}`)
	})

	models, err := r.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, domain.KindLLM, models[0].Kind)
	assert.Equal(t, domain.KindEmbeddings, models[1].Kind)
}

func TestInferModelInfo(t *testing.T) {
	tests := []struct {
		id      string
		kind    domain.ModelKind
		caps    []domain.Capability
		context int
	}{
		{"text-embedding-3-large", domain.KindEmbeddings, nil, 8191},
		{"gpt-4o", domain.KindLLM, []domain.Capability{domain.CapToolCall, domain.CapImageInput}, 128000},
		{"o1-preview", domain.KindLLM, []domain.Capability{domain.CapToolCall, domain.CapThinking}, 128000},
		{"claude-3-5-sonnet", domain.KindLLM, []domain.Capability{domain.CapToolCall, domain.CapImageInput}, 200000},
		{"gpt-3.5-turbo-instruct", domain.KindLLM, nil, 16385},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			info := inferModelInfo(tt.id)
			assert.Equal(t, tt.kind, info.Kind)
			assert.Equal(t, tt.context, info.MaxContext)
			for _, c := range tt.caps {
				assert.True(t, info.Has(c), "expected capability %s", c)
			}
		})
	}
}
