package llm

import (
	"context"
	"log/slog"
)

// Provider streams one completion attempt from a concrete backend
// (Anthropic, OpenAI-compatible, ...). A single call never retries;
// Stream owns the retry loop.
type Provider interface {
	StreamCompletion(ctx context.Context, in StreamInput) (<-chan Chunk, error)
}

// Registry resolves a provider id to a Provider implementation, set up
// by internal/app at startup from configured provider credentials.
type Registry interface {
	Provider(providerID string) (Provider, bool)
}

// Stream runs one StreamInput against the provider registry, retrying
// up to in.Retries times with the SessionRetry backoff schedule when
// StreamCompletion itself returns a Retryable error. Such a failure
// happens before any chunk of that attempt is relayed, so each retry
// starts from scratch. An in-band error chunk from an attempt that has
// started streaming is not retried: it is relayed to the consumer,
// followed by a second error chunk with the same message, and the
// stream ends.
func Stream(ctx context.Context, registry Registry, in StreamInput, log *slog.Logger) <-chan Chunk {
	out := make(chan Chunk, 16)
	if log == nil {
		log = slog.Default()
	}

	go func() {
		defer close(out)

		provider, ok := registry.Provider(in.ProviderID)
		if !ok {
			out <- Chunk{Type: ChunkError, Error: "Provider '" + in.ProviderID + "' not found"}
			return
		}

		retries := in.Retries
		if retries < 0 {
			retries = 0
		}

		for attempt := 0; attempt <= retries; attempt++ {
			chunks, err := provider.StreamCompletion(ctx, in)
			if err != nil {
				if attempt >= retries || !Retryable(err) {
					log.Error("stream error", "error", err, "attempt", attempt)
					out <- Chunk{Type: ChunkError, Error: err.Error()}
					return
				}
				log.Warn("stream retry", "error", err, "attempt", attempt)
				Sleep(DelayMS(attempt+1, err))
				continue
			}

			streamErr := forward(ctx, chunks, out)
			if streamErr == nil {
				return
			}
			if attempt >= retries || !Retryable(streamErr) {
				log.Error("stream error", "error", streamErr, "attempt", attempt)
				out <- Chunk{Type: ChunkError, Error: streamErr.Error()}
				return
			}
			log.Warn("stream retry", "error", streamErr, "attempt", attempt)
			Sleep(DelayMS(attempt+1, streamErr))
		}
	}()

	return out
}

// streamFailure carries the message of a mid-stream error chunk back
// to Stream. It carries no status code and matches no retryable
// sentinel, so Retryable reports false for it.
type streamFailure struct{ message string }

func (e *streamFailure) Error() string { return e.message }

// forward relays chunks from a single attempt to out, normalising
// finish reasons and text as it goes. It returns nil once the attempt
// completes without an in-band error chunk, or a non-nil error built
// from an in-band "error" chunk so the caller can decide whether to
// retry.
func forward(ctx context.Context, chunks <-chan Chunk, out chan<- Chunk) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-chunks:
			if !ok {
				return nil
			}
			if c.Type == ChunkText {
				c.Text = SanitizeText(c.Text)
			}
			if c.Type == ChunkReasoningDelta {
				c.ReasoningText = SanitizeText(c.ReasoningText)
			}
			if c.Type == ChunkToolCallDelta {
				c.ToolCallInputDelta = SanitizeText(c.ToolCallInputDelta)
			}
			if c.StopReason != "" {
				c.StopReason = NormalizeFinishReason(string(c.StopReason))
			}
			if c.Type == ChunkError {
				out <- c
				return &streamFailure{message: c.Error}
			}
			out <- c
		}
	}
}
