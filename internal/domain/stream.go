package domain

// ToolCallDelta is an incremental fragment of a tool call inside a
// streaming response. Arguments accumulate across chunks.
type ToolCallDelta struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Chunk is a single incremental unit of a streamed completion.
//
// A stream is a receive-only channel of Chunks, closed by the producer
// after the final chunk. Chunks arrive in generation order. A terminal
// failure is delivered as a final Chunk whose Err is non-nil: ErrAborted
// when the caller cancelled, a wrapped ErrAPIRequest or ErrUnsafeContent
// otherwise. Chunks with Err set carry no payload.
type Chunk struct {
	Content   string          `json:"content,omitempty"`
	Role      string          `json:"role,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
	Usage     *Usage          `json:"usage,omitempty"`
	Done      bool            `json:"done,omitempty"`
	Err       error           `json:"-"`
}
