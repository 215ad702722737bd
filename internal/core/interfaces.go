// Package core defines the interfaces between the speaker store and the
// services around it.
package core

import (
	"context"

	"github.com/book-expert/speaker-forge/internal/embedding"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// SynthesisRequest holds the inputs for one synthesis call.
type SynthesisRequest struct {
	Language  string
	Text      string
	Latent    embedding.Tensor
	Embedding embedding.Tensor
	// FileNameHint optionally names the produced audio file.
	FileNameHint string
}

// ModelGateway is the neural TTS model as seen from the store: it turns
// reference audio into a (latent, embedding) pair and turns a pair plus text
// into audio.
type ModelGateway interface {
	// ExtractEmbedding computes the conditioning latent and speaker embedding
	// for the given reference audio files.
	ExtractEmbedding(ctx context.Context, audioPaths []string) (embedding.Tensor, embedding.Tensor, error)

	// Synthesize renders text with the given voice and returns the path of
	// the written audio file.
	Synthesize(ctx context.Context, req SynthesisRequest) (string, error)
}
