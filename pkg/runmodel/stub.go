package runmodel

import "context"

// StubModelClient is a deterministic ModelClient implementation for tests.
// It returns a fixed LLMUsage for every call, which is exactly what spec.md
// §8 property 10 ("determinism under maxConcurrentTasks=1 with a
// deterministic ModelClient stub") requires. It replaces the teacher's
// protoc-generated GRPCLLMClient, which this exercise cannot regenerate
// (see DESIGN.md).
type StubModelClient struct {
	ProviderName string
	Model        string
	Usage        LLMUsage
	Text         string
	Object       []byte
	// StreamChunks, if set, is replayed verbatim by GenerateStream instead
	// of synthesizing a text+usage pair.
	StreamChunks []Chunk
}

// NewStubModelClient builds a stub that reports the given usage for every
// call, deriving TotalTokens if unset.
func NewStubModelClient(provider, model string, usage LLMUsage) *StubModelClient {
	usage.Provider = provider
	usage.Model = model
	return &StubModelClient{
		ProviderName: provider,
		Model:        model,
		Usage:        usage.Normalize(),
		Text:         "stub response",
	}
}

func (s *StubModelClient) Provider() string     { return s.ProviderName }
func (s *StubModelClient) DefaultModel() string { return s.Model }

func (s *StubModelClient) GenerateText(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	select {
	case <-ctx.Done():
		return GenerateResult{}, ctx.Err()
	default:
	}
	return GenerateResult{Text: s.Text, Usage: s.Usage}, nil
}

func (s *StubModelClient) GenerateStructured(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	select {
	case <-ctx.Done():
		return GenerateResult{}, ctx.Err()
	default:
	}
	obj := s.Object
	if obj == nil {
		obj = []byte(`{}`)
	}
	return GenerateResult{Object: obj, Usage: s.Usage}, nil
}

func (s *StubModelClient) GenerateStream(ctx context.Context, req GenerateRequest) (<-chan Chunk, error) {
	ch := make(chan Chunk, 4)
	go func() {
		defer close(ch)
		chunks := s.StreamChunks
		if chunks == nil {
			chunks = []Chunk{
				TextChunk{Content: s.Text},
				UsageChunk{
					InputTokens:  s.Usage.PromptTokens,
					OutputTokens: s.Usage.CompletionTokens,
					TotalTokens:  s.Usage.TotalTokens,
					Cost:         s.Usage.Cost,
				},
			}
		}
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
