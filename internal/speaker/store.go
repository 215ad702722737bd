package speaker

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/speaker-forge/internal/embedding"
	"github.com/book-expert/speaker-forge/internal/fsutil"
)

// Store is the in-memory registry of speaker profiles backed by one file.
//
// A Store starts unloaded; SetFile loads it. Nothing is written back until
// SaveFile is called. Store does no locking of its own: callers sharing one
// instance between goroutines must serialise access.
type Store struct {
	file string
	data *contents
	log  *logger.Logger
}

// New creates an unloaded store.
func New(log *logger.Logger) *Store {
	return &Store{log: log}
}

// Open creates a store and loads path into it.
func Open(path string, log *logger.Logger) (*Store, error) {
	store := New(log)

	_, err := store.SetFile(path)
	if err != nil {
		return nil, err
	}

	return store, nil
}

// SetFile validates path, loads it and replaces the in-memory state. Legacy
// per-record metadata is migrated into the side map during the load. The file
// itself is not rewritten.
func (s *Store) SetFile(path string) (string, error) {
	err := fsutil.CheckFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %w", ErrStoreUnavailable, ErrFileNotFound, err)
	}

	result, err := readFile(path)
	if err != nil {
		return "", err
	}

	s.file = path
	s.data = result.contents

	if result.migratedCount > 0 {
		s.log.Info("Migrated legacy metadata for %d speakers in %s", result.migratedCount, path)
	}

	if result.orphanCount > 0 {
		s.log.Warn("Dropped metadata for %d missing speakers in %s", result.orphanCount, path)
	}

	s.log.Info("Loaded %d speakers from %s", len(s.data.records), path)

	return path, nil
}

// File returns the path of the loaded store file, or "" when unloaded.
func (s *Store) File() string {
	return s.file
}

// Loaded reports whether a store file has been loaded.
func (s *Store) Loaded() bool {
	return s.data != nil
}

// SpeakerNames returns every speaker name in lexicographic order.
func (s *Store) SpeakerNames() []string {
	if s.data == nil {
		return []string{}
	}

	return slices.Sorted(maps.Keys(s.data.records))
}

// SpeakerData returns a copy of the record stored under name.
func (s *Store) SpeakerData(name string) (Record, bool) {
	if s.data == nil {
		return Record{}, false
	}

	record, ok := s.data.records[name]
	if !ok {
		return Record{}, false
	}

	return record.Clone(), true
}

// SpeakerMetadata returns the metadata stored for name.
func (s *Store) SpeakerMetadata(name string) (Metadata, bool) {
	if s.data == nil {
		return Metadata{}, false
	}

	meta, ok := s.data.metadata[name]
	if !ok {
		return Metadata{}, false
	}

	return meta.Clone(), true
}

// AddSpeaker inserts or overwrites the speaker called name, taking ownership of
// both tensors. When metadata is non-nil it replaces the speaker's metadata.
// Name collisions are not checked here; callers warn before overwriting.
func (s *Store) AddSpeaker(name string, latent, speakerEmbedding embedding.Tensor, metadata *Metadata) error {
	if s.data == nil {
		return ErrStoreNotLoaded
	}

	err := validateName(name)
	if err != nil {
		return err
	}

	record, err := NewRecord(name, latent, speakerEmbedding)
	if err != nil {
		return err
	}

	s.data.records[name] = record

	if metadata != nil {
		s.data.metadata[name] = metadata.Clone()
	}

	return nil
}

// UpdateSpeakerName moves the record and its metadata from oldName to newName
// in one step.
func (s *Store) UpdateSpeakerName(oldName, newName string) Outcome {
	if s.data == nil {
		s.log.Warn("Cannot rename speaker %s: %v", oldName, ErrStoreNotLoaded)

		return OutcomeNotFound
	}

	record, ok := s.data.records[oldName]
	if !ok {
		s.log.Warn("Speaker %s does not exist", oldName)

		return OutcomeNotFound
	}

	if validateName(newName) != nil {
		s.log.Warn("Cannot rename speaker %s to %q: invalid name", oldName, newName)

		return OutcomeSkipped
	}

	if oldName == newName {
		return OutcomeApplied
	}

	meta, hasMeta := s.data.metadata[oldName]

	delete(s.data.records, oldName)
	delete(s.data.metadata, oldName)

	record.Name = newName
	s.data.records[newName] = record

	if hasMeta {
		if meta.SpeakerName != "" {
			meta.SpeakerName = newName
		}

		s.data.metadata[newName] = meta
	}

	return OutcomeApplied
}

// UpdateSpeakerMetadata stores metadata for name. The metadata's SpeakerName
// is the speaker's (possibly new) name: when it differs from name the speaker
// is renamed along with it. A blank SpeakerName makes the call a no-op.
func (s *Store) UpdateSpeakerMetadata(name string, metadata Metadata) Outcome {
	if s.data == nil {
		s.log.Warn("Cannot update speaker %s: %v", name, ErrStoreNotLoaded)

		return OutcomeNotFound
	}

	if _, ok := s.data.records[name]; !ok {
		s.log.Warn("Speaker %s does not exist", name)

		return OutcomeNotFound
	}

	newName := strings.TrimSpace(metadata.SpeakerName)
	if newName == "" || newName == MetadataKey {
		return OutcomeSkipped
	}

	meta := metadata.Clone()
	meta.SpeakerName = newName

	outcome := s.UpdateSpeakerName(name, newName)
	if outcome != OutcomeApplied {
		return outcome
	}

	s.data.metadata[newName] = meta

	return OutcomeApplied
}

// SetSpeakerMetadata replaces the metadata of an existing speaker without
// renaming it.
func (s *Store) SetSpeakerMetadata(name string, metadata Metadata) Outcome {
	if s.data == nil {
		return OutcomeNotFound
	}

	if _, ok := s.data.records[name]; !ok {
		s.log.Warn("Speaker %s does not exist", name)

		return OutcomeNotFound
	}

	s.data.metadata[name] = metadata.Clone()

	return OutcomeApplied
}

// RemoveSpeaker deletes the speaker and its metadata.
func (s *Store) RemoveSpeaker(name string) Outcome {
	if s.data == nil {
		s.log.Warn("Cannot remove speaker %s: %v", name, ErrStoreNotLoaded)

		return OutcomeNotFound
	}

	if _, ok := s.data.records[name]; !ok {
		s.log.Warn("Speaker %s does not exist", name)

		return OutcomeNotFound
	}

	delete(s.data.records, name)
	delete(s.data.metadata, name)

	return OutcomeApplied
}

// Snapshot captures the in-memory state for a later Restore.
type Snapshot struct {
	file string
	data *contents
}

// Snapshot returns the current in-memory state. Saving is not affected.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{file: s.file, data: s.data.clone()}
}

// Restore discards every change made since snap was taken.
func (s *Store) Restore(snap Snapshot) {
	s.file = snap.file
	s.data = snap.data.clone()
}

// SaveFile writes the whole store, metadata included, to outputPath or, when
// outputPath is empty, back to the loaded file. Parent directories are not
// created.
func (s *Store) SaveFile(outputPath string) error {
	if s.data == nil {
		return ErrStoreNotLoaded
	}

	target := outputPath
	if target == "" {
		target = s.file
	}

	return writeContents(target, s.data)
}

// SelectWeights returns the weights a mix would use: one per known speaker, in
// name order, with a repeated speaker keeping its last weight.
func (s *Store) SelectWeights(weights []Weight) []Weight {
	if s.data == nil {
		return nil
	}

	weightMap := make(map[string]float64, len(weights))
	for _, w := range weights {
		weightMap[w.Speaker] = w.Weight
	}

	var selected []Weight

	for _, name := range s.SpeakerNames() {
		if weight, ok := weightMap[name]; ok {
			selected = append(selected, Weight{Speaker: name, Weight: weight})
		}
	}

	return selected
}

// CreateSpeakerEmbeddingFromMix combines the speakers named in weights into a
// new, unsaved record. Speakers are visited in name order; weights naming
// unknown speakers are ignored, and a repeated speaker keeps its last weight.
func (s *Store) CreateSpeakerEmbeddingFromMix(weights []Weight, method embedding.CombineMethod) (Record, error) {
	if s.data == nil {
		return Record{}, ErrStoreNotLoaded
	}

	selected := s.SelectWeights(weights)
	if len(selected) == 0 {
		return Record{}, ErrNoSpeakersSelected
	}

	pairs := make([]embedding.Pair, len(selected))
	pairWeights := make([]float64, len(selected))

	for i, w := range selected {
		pairs[i] = s.data.records[w.Speaker].Pair()
		pairWeights[i] = w.Weight
	}

	latent, speakerEmbedding, err := embedding.AverageLatentsAndEmbeddings(pairs, method, pairWeights)
	if err != nil {
		return Record{}, fmt.Errorf("failed to mix speakers: %w", err)
	}

	return Record{GPTCondLatent: latent, SpeakerEmbedding: speakerEmbedding}, nil
}

// Describe reports whether err came from a missing file, a malformed file or
// an unloaded store, in words suitable for an end user.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFileNotFound):
		return "speaker file not found"
	case errors.Is(err, ErrMalformedFile):
		return "speaker file is malformed"
	case errors.Is(err, ErrStoreNotLoaded):
		return "speaker store is not initialized"
	case errors.Is(err, ErrNoSpeakersSelected):
		return "none of the selected speakers exist in the store"
	default:
		return err.Error()
	}
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}

	if name == MetadataKey {
		return fmt.Errorf("%w: %s", ErrReservedName, name)
	}

	return nil
}

func writeContents(path string, c *contents) error {
	data, err := encodeFile(c)
	if err != nil {
		return err
	}

	err = fsutil.WriteFileAtomic(path, data, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to save speaker file: %w", err)
	}

	return nil
}
