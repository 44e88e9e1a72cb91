package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"ragline/internal/domain"
)

// parseSSEStream reads SSE-formatted lines from body and converts each data
// payload into a Chunk using the provider-specific parseLine function.
//
// The returned channel is closed after the final chunk. Chunks are sent in
// line order; the producer goroutine is the only writer, so ordering within
// one stream is guaranteed. Cancellation is observed at every chunk
// boundary: the body is closed and a terminal Chunk{Err: ErrAborted} is
// delivered on the next pull. I/O failures mid-stream terminate with a
// Chunk wrapping ErrAPIRequest.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*domain.Chunk, error)) <-chan domain.Chunk {
	ch := make(chan domain.Chunk, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		// Closing the body when ctx fires unblocks a Scan stuck on a
		// silent connection.
		stop := context.AfterFunc(ctx, func() { body.Close() })
		defer stop()

		emit := func(c domain.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// After cancellation the consumer may have abandoned the channel,
		// so the terminal abort chunk must not block.
		emitAbort := func() {
			select {
			case ch <- domain.Chunk{Err: domain.Abort(ctx, ctx.Err())}:
			default:
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if ctx.Err() != nil {
				emitAbort()
				return
			}

			line := scanner.Bytes()

			// Skip empty lines and comments.
			if len(line) == 0 || line[0] == ':' {
				continue
			}

			// We only care about "data: ..." lines.
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			data := bytes.TrimPrefix(line, []byte("data: "))

			// Common termination signal.
			if bytes.Equal(data, []byte("[DONE]")) {
				emit(domain.Chunk{Done: true})
				return
			}

			chunk, err := parseLine(data)
			if err != nil {
				// Skip unparseable lines.
				continue
			}
			if chunk == nil {
				continue
			}

			if !emit(*chunk) {
				emitAbort()
				return
			}
			if chunk.Done || chunk.Err != nil {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				emitAbort()
				return
			}
			ch <- domain.Chunk{Err: fmt.Errorf("%w: stream read: %v", domain.ErrAPIRequest, err)}
			return
		}
		// Stream ended without [DONE]; treat EOF as completion.
		if ctx.Err() != nil {
			emitAbort()
		}
	}()
	return ch
}
