package runmodel

import "context"

// Capability describes a single capability an Agent exposes, e.g. a tool or
// task type it can produce/execute.
type Capability struct {
	Name        string
	Description string
}

// PlanRequest is the input to Agent.Plan.
type PlanRequest struct {
	Run     Snapshot
	Prompt  string
	History []Message
}

// Message is a single turn of conversation history handed to an agent.
type Message struct {
	Role    string
	Content string
}

// TaskExecRequest is the input to Agent.ExecuteTask.
type TaskExecRequest struct {
	RunID        string
	SessionID    string
	Dependencies []TaskResult
}

// SynthesizeRequest is the input to Agent.Synthesize.
type SynthesizeRequest struct {
	RunID           string
	SessionID       string
	CompletedTasks  []TaskResult
	OriginalPrompt  string
}

// Agent is the per-agentType collaborator that drives planning, task
// execution, and synthesis for a run. Provider/tool internals behind an
// Agent implementation are out of scope for the run execution core (spec.md
// §1) — the core only calls through this interface.
type Agent interface {
	Type() string
	Plan(ctx context.Context, req PlanRequest) (*Plan, error)
	ExecuteTask(ctx context.Context, task *Task, req TaskExecRequest) (TaskResult, error)
	Synthesize(ctx context.Context, req SynthesizeRequest) (string, error)
	Capabilities() []Capability
}

// ChunkType discriminates the tagged-union Chunk variants a streaming
// ModelClient call produces.
type ChunkType string

const (
	ChunkText  ChunkType = "text"
	ChunkUsage ChunkType = "usage"
	ChunkError ChunkType = "error"
)

// Chunk is a tagged-variant element of a model-client stream.
type Chunk interface {
	ChunkType() ChunkType
}

// TextChunk carries a fragment of generated text.
type TextChunk struct{ Content string }

func (TextChunk) ChunkType() ChunkType { return ChunkText }

// UsageChunk reports token usage, normally the terminal chunk of a stream.
type UsageChunk struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Cost         float64
	Raw          []byte
}

func (UsageChunk) ChunkType() ChunkType { return ChunkUsage }

// ErrorChunk reports a terminal stream error.
type ErrorChunk struct {
	Message   string
	Code      string
	Retryable bool
}

func (ErrorChunk) ChunkType() ChunkType { return ChunkError }

// GenerateRequest is the shared input shape for GenerateText/GenerateStructured/GenerateStream.
type GenerateRequest struct {
	Messages    []Message
	System      string
	Model       string
	Temperature float64
	Schema      []byte // JSON schema, only used by GenerateStructured
}

// GenerateResult is the non-streaming call result.
type GenerateResult struct {
	Text  string // GenerateText
	Object []byte // GenerateStructured, raw JSON
	Usage LLMUsage
}

// ModelClient is the abstract capability injected into the gateway. Provider
// adapter internals (HTTP bindings to a specific vendor) are out of scope;
// runcore consumes any implementation through this interface (spec.md §6).
type ModelClient interface {
	Provider() string
	DefaultModel() string
	GenerateText(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	GenerateStructured(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	// GenerateStream returns a channel of Chunks. The channel is closed when
	// the stream ends, is cancelled via ctx, or errors (in which case the
	// last chunk sent is an ErrorChunk before close).
	GenerateStream(ctx context.Context, req GenerateRequest) (<-chan Chunk, error)
}
