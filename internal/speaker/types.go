// Package speaker implements the persisted store of speaker voice profiles:
// named pairs of conditioning latents and speaker embeddings, the metadata kept
// beside them, and the mixing of several profiles into a new synthetic voice.
package speaker

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/book-expert/speaker-forge/internal/embedding"
)

// MetadataKey is the reserved top-level key holding the metadata side map in a
// store file. The double underscores keep it apart from any speaker name a user
// would enter, and the store refuses it as a speaker name.
const MetadataKey = "__speaker_forge_metadata__"

var (
	// ErrStoreUnavailable is the umbrella error for a store file that cannot be used.
	ErrStoreUnavailable = errors.New("speaker store unavailable")
	// ErrFileNotFound indicates a missing or unreadable store file.
	ErrFileNotFound = errors.New("speaker file not found")
	// ErrMalformedFile indicates a store file that exists but cannot be decoded.
	ErrMalformedFile = errors.New("speaker file is malformed")
	// ErrNotMapping indicates a decodable file whose top level is not a speaker mapping.
	ErrNotMapping = errors.New("speaker file does not contain a speaker mapping")
	// ErrStoreNotLoaded indicates an operation that needs a loaded store.
	ErrStoreNotLoaded = errors.New("speaker store is not loaded")
	// ErrNoSpeakersSelected indicates a mix whose weights reference no known speaker.
	ErrNoSpeakersSelected = errors.New("no known speakers selected for mixing")
	// ErrReservedName indicates an attempt to use the reserved metadata key as a name.
	ErrReservedName = errors.New("speaker name is reserved")
	// ErrInvalidRecord indicates a record missing its latent or embedding.
	ErrInvalidRecord = errors.New("invalid speaker record")
	// ErrEmptyName indicates a blank speaker name.
	ErrEmptyName = errors.New("speaker name cannot be empty")
)

// Sample is a cached synthesis preview for a speaker.
type Sample struct {
	Text     string `msgpack:"text"               json:"text"`
	AudioRef string `msgpack:"audio"              json:"audio"`
	Language string `msgpack:"language,omitempty" json:"language,omitempty"`
}

// Metadata holds the optional descriptive attributes of a speaker. Every field
// may be empty.
type Metadata struct {
	SpeakerName   string   `msgpack:"speaker_name,omitempty"   json:"speaker_name,omitempty"`
	AgeRange      string   `msgpack:"age_range,omitempty"      json:"age_range,omitempty"`
	Gender        string   `msgpack:"gender,omitempty"         json:"gender,omitempty"`
	Accent        string   `msgpack:"accent,omitempty"         json:"accent,omitempty"`
	TonalQuality  []string `msgpack:"tonal_quality,omitempty"  json:"tonal_quality,omitempty"`
	Style         []string `msgpack:"style,omitempty"          json:"style,omitempty"`
	Genre         []string `msgpack:"genre,omitempty"          json:"genre,omitempty"`
	CharacterType []string `msgpack:"character_type,omitempty" json:"character_type,omitempty"`
	Description   string   `msgpack:"description,omitempty"    json:"description,omitempty"`
	Sample        *Sample  `msgpack:"sample,omitempty"         json:"sample,omitempty"`
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	out := m
	out.TonalQuality = slices.Clone(m.TonalQuality)
	out.Style = slices.Clone(m.Style)
	out.Genre = slices.Clone(m.Genre)
	out.CharacterType = slices.Clone(m.CharacterType)

	if m.Sample != nil {
		sample := *m.Sample
		out.Sample = &sample
	}

	return out
}

// IsZero reports whether no attribute is set.
func (m Metadata) IsZero() bool {
	return m.SpeakerName == "" && m.AgeRange == "" && m.Gender == "" && m.Accent == "" &&
		len(m.TonalQuality) == 0 && len(m.Style) == 0 && len(m.Genre) == 0 &&
		len(m.CharacterType) == 0 && m.Description == "" && m.Sample == nil
}

// Record is one named voice profile.
type Record struct {
	Name             string
	GPTCondLatent    embedding.Tensor
	SpeakerEmbedding embedding.Tensor
}

// NewRecord validates both tensors and builds a record.
func NewRecord(name string, latent, speakerEmbedding embedding.Tensor) (Record, error) {
	err := latent.Validate()
	if err != nil {
		return Record{}, fmt.Errorf("%w: gpt_cond_latent: %w", ErrInvalidRecord, err)
	}

	err = speakerEmbedding.Validate()
	if err != nil {
		return Record{}, fmt.Errorf("%w: speaker_embedding: %w", ErrInvalidRecord, err)
	}

	return Record{Name: name, GPTCondLatent: latent, SpeakerEmbedding: speakerEmbedding}, nil
}

// Clone returns a deep copy with tensors detached from the original.
func (r Record) Clone() Record {
	return Record{
		Name:             r.Name,
		GPTCondLatent:    r.GPTCondLatent.Clone(),
		SpeakerEmbedding: r.SpeakerEmbedding.Clone(),
	}
}

// Pair returns the record's tensors as a combinable pair.
func (r Record) Pair() embedding.Pair {
	return embedding.Pair{Latent: r.GPTCondLatent, Embedding: r.SpeakerEmbedding}
}

// Entry is a record together with its metadata, as read from an external file.
type Entry struct {
	Record   Record
	Metadata *Metadata
}

// Weight is one speaker's share in a mix request.
type Weight struct {
	Speaker string  `json:"speaker"`
	Weight  float64 `json:"weight"`
}

// ParseWeight parses "name=weight"; a missing weight defaults to 1.
func ParseWeight(arg string) (Weight, error) {
	name, value, hasValue := strings.Cut(arg, "=")

	name = strings.TrimSpace(name)
	if name == "" {
		return Weight{}, fmt.Errorf("%w: %q", ErrEmptyName, arg)
	}

	if !hasValue {
		return Weight{Speaker: name, Weight: 1}, nil
	}

	weight, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return Weight{}, fmt.Errorf("invalid weight in %q: %w", arg, err)
	}

	return Weight{Speaker: name, Weight: weight}, nil
}

// MixFileName renders weights as a file-name hint such as "Alice_1_Bob_0.5_".
func MixFileName(weights []Weight) string {
	var builder strings.Builder

	for _, w := range weights {
		builder.WriteString(w.Speaker)
		builder.WriteByte('_')
		builder.WriteString(strconv.FormatFloat(w.Weight, 'f', -1, 64))
		builder.WriteByte('_')
	}

	return builder.String()
}

// Outcome reports how a soft operation on a named speaker went.
type Outcome int

const (
	// OutcomeApplied means the operation changed the store.
	OutcomeApplied Outcome = iota
	// OutcomeNotFound means the named speaker does not exist; nothing changed.
	OutcomeNotFound
	// OutcomeSkipped means the request carried nothing to apply.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}
