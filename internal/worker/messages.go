package worker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/events"
	"github.com/book-expert/speaker-forge/internal/speaker"
)

var (
	// ErrSpeakerEmpty indicates a preview request without a speaker name.
	ErrSpeakerEmpty = errors.New("speaker cannot be empty")
	// ErrTextEmpty indicates a preview request without text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrUnknownSpeaker indicates a speaker that is not in the store.
	ErrUnknownSpeaker = errors.New("unknown speaker")
	// ErrMixNameEmpty indicates a mix request without a target name.
	ErrMixNameEmpty = errors.New("mix name cannot be empty")
	// ErrNoWeights indicates a mix request without any weights.
	ErrNoWeights = errors.New("mix requires at least one weight")
)

// PreviewRequest asks for a short synthesis with a stored voice.
type PreviewRequest struct {
	Header   events.EventHeader `json:"header"`
	Speaker  string             `json:"speaker"`
	Text     string             `json:"text"`
	Language string             `json:"language,omitempty"`
	// Cache stores the result as the speaker's sample and saves the store.
	Cache bool `json:"cache,omitempty"`
}

// Validate checks the request fields that do not need the store.
func (r *PreviewRequest) Validate() error {
	if strings.TrimSpace(r.Speaker) == "" {
		return ErrSpeakerEmpty
	}

	if strings.TrimSpace(r.Text) == "" {
		return ErrTextEmpty
	}

	return nil
}

// PreviewResult is the reply to a PreviewRequest.
type PreviewResult struct {
	Header   events.EventHeader `json:"header"`
	Speaker  string             `json:"speaker"`
	AudioKey string             `json:"audio_key"`
	Cached   bool               `json:"cached"`
}

// MixRequest asks for a new speaker combined from stored ones.
type MixRequest struct {
	Header   events.EventHeader `json:"header"`
	Name     string             `json:"name"`
	Method   string             `json:"method,omitempty"`
	Weights  []speaker.Weight   `json:"weights"`
	Metadata *speaker.Metadata  `json:"metadata,omitempty"`
	// Save writes the store file after the mix is added.
	Save bool `json:"save,omitempty"`
}

// Validate checks the request fields that do not need the store.
func (r *MixRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrMixNameEmpty
	}

	if r.Name == speaker.MetadataKey {
		return fmt.Errorf("%w: %q", speaker.ErrReservedName, r.Name)
	}

	if len(r.Weights) == 0 {
		return ErrNoWeights
	}

	return nil
}

// MixResult is the reply to a MixRequest.
type MixResult struct {
	Header events.EventHeader `json:"header"`
	Name   string             `json:"name"`
	Method string             `json:"method"`
	// Overwrote is set when a speaker with the same name was replaced.
	Overwrote bool `json:"overwrote"`
	Saved     bool `json:"saved"`
}

// ErrorReply is sent instead of a result when a request fails.
type ErrorReply struct {
	Header events.EventHeader `json:"header"`
	Error  string             `json:"error"`
}
