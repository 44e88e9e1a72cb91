package domain

import "context"

// ModelKind distinguishes chat models from embedding models.
type ModelKind string

const (
	KindLLM        ModelKind = "llm"
	KindEmbeddings ModelKind = "embeddings"
)

// Capability is a named optional feature a model supports.
type Capability string

const (
	CapToolCall   Capability = "tool-call"
	CapImageInput Capability = "image-input"
	CapThinking   Capability = "thinking"
)

// ModelInfo describes one discovered model. Immutable once discovered;
// the whole set is replaced on refresh, never patched.
type ModelInfo struct {
	Name         string       `json:"name"`
	Kind         ModelKind    `json:"kind"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	MaxContext   int          `json:"max_context,omitempty"`
}

// Has reports whether the model advertises the given capability.
func (m ModelInfo) Has(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// RequesterCapability is a bit set declaring which request kinds a
// ModelRequester supports. Capability flags replace subclass identity:
// a single requester type may serve chat, embeddings, or both.
type RequesterCapability uint8

const (
	CapChat RequesterCapability = 1 << iota
	CapEmbeddings
)

// Supports reports whether the set contains c.
func (r RequesterCapability) Supports(c RequesterCapability) bool {
	return r&c == c
}

// ModelRequester issues a single request against one credential/endpoint
// configuration. It performs no retries: failover and retry policy belong
// to the platform client that owns the requester.
type ModelRequester interface {
	// CompleteStream starts a streaming chat completion. The returned
	// channel delivers chunks in generation order and is closed after the
	// final chunk; terminal errors arrive as a Chunk with Err set.
	// A synchronous error means the request never started.
	CompleteStream(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Embed generates one vector per input text, order-preserving.
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)

	// ListModels enumerates the models reachable through this requester's
	// configuration.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Capabilities reports which request kinds this requester supports.
	Capabilities() RequesterCapability
}
