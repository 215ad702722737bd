// Package speaker_test tests the speaker store.
package speaker_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/speaker-forge/internal/embedding"
	"github.com/book-expert/speaker-forge/internal/speaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

const tolerance = 1e-6

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "speaker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

// newLoadedStore writes an empty store file, loads it and adds speakers whose
// latent and embedding are filled with the given values.
func newLoadedStore(t *testing.T, speakers map[string]float32) (*speaker.Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "speakers"+speaker.FileExtension)
	require.NoError(t, speaker.NewFile(path))

	store, err := speaker.Open(path, newTestLogger(t))
	require.NoError(t, err)

	for name, value := range speakers {
		meta := &speaker.Metadata{SpeakerName: name, Description: "voice " + name}
		require.NoError(t, store.AddSpeaker(name, embedding.Filled(value, 1, 2, 3), embedding.Filled(value, 4), meta))
	}

	return store, path
}

func TestStore_UnloadedReadsAreEmpty(t *testing.T) {
	t.Parallel()

	store := speaker.New(newTestLogger(t))

	assert.False(t, store.Loaded())
	assert.Empty(t, store.SpeakerNames())

	_, ok := store.SpeakerData("A")
	assert.False(t, ok)

	_, ok = store.SpeakerMetadata("A")
	assert.False(t, ok)

	require.ErrorIs(t, store.AddSpeaker("A", embedding.Vector(1), embedding.Vector(1), nil), speaker.ErrStoreNotLoaded)
	require.ErrorIs(t, store.SaveFile(""), speaker.ErrStoreNotLoaded)
	assert.Equal(t, speaker.OutcomeNotFound, store.RemoveSpeaker("A"))
}

func TestStore_SetFileErrors(t *testing.T) {
	t.Parallel()

	store := speaker.New(newTestLogger(t))
	dir := t.TempDir()

	_, err := store.SetFile(filepath.Join(dir, "missing.spk"))
	require.ErrorIs(t, err, speaker.ErrStoreUnavailable)
	require.ErrorIs(t, err, speaker.ErrFileNotFound)
	assert.Equal(t, "speaker file not found", speaker.Describe(err))

	_, err = store.SetFile("")
	require.ErrorIs(t, err, speaker.ErrFileNotFound)

	garbage := filepath.Join(dir, "garbage.spk")
	require.NoError(t, os.WriteFile(garbage, []byte{0xc1, 0x00, 0x13}, 0o600))

	_, err = store.SetFile(garbage)
	require.ErrorIs(t, err, speaker.ErrStoreUnavailable)
	require.ErrorIs(t, err, speaker.ErrMalformedFile)
	assert.Equal(t, "speaker file is malformed", speaker.Describe(err))

	list, err := msgpack.Marshal([]int{1, 2, 3})
	require.NoError(t, err)

	notMapping := filepath.Join(dir, "list.spk")
	require.NoError(t, os.WriteFile(notMapping, list, 0o600))

	_, err = store.SetFile(notMapping)
	require.ErrorIs(t, err, speaker.ErrMalformedFile)
	require.ErrorIs(t, err, speaker.ErrNotMapping)

	assert.False(t, store.Loaded(), "failed loads must not change state")
}

func TestStore_SpeakerNamesSortedAndIdempotent(t *testing.T) {
	t.Parallel()

	store, _ := newLoadedStore(t, map[string]float32{"charlie": 3, "Alice": 1, "bob": 2})

	first := store.SpeakerNames()
	second := store.SpeakerNames()

	assert.Equal(t, []string{"Alice", "bob", "charlie"}, first)
	assert.Equal(t, first, second)
	assert.NotContains(t, first, speaker.MetadataKey)
}

func TestStore_AddSpeakerRejectsReservedAndInvalid(t *testing.T) {
	t.Parallel()

	store, _ := newLoadedStore(t, nil)

	err := store.AddSpeaker(speaker.MetadataKey, embedding.Vector(1), embedding.Vector(1), nil)
	require.ErrorIs(t, err, speaker.ErrReservedName)

	err = store.AddSpeaker("  ", embedding.Vector(1), embedding.Vector(1), nil)
	require.ErrorIs(t, err, speaker.ErrEmptyName)

	err = store.AddSpeaker("A", embedding.Tensor{}, embedding.Vector(1), nil)
	require.ErrorIs(t, err, speaker.ErrInvalidRecord)

	assert.Empty(t, store.SpeakerNames())
}

func TestStore_SaveAndReloadRoundTrip(t *testing.T) {
	t.Parallel()

	store, path := newLoadedStore(t, map[string]float32{"A": 0.1, "B": -2.5})
	require.NoError(t, store.AddSpeaker("C", embedding.Vector(1.0000001, 3.1415927), embedding.Vector(2.7182817), nil))
	require.NoError(t, store.SaveFile(""))

	reloaded, err := speaker.Open(path, newTestLogger(t))
	require.NoError(t, err)

	assert.Equal(t, store.SpeakerNames(), reloaded.SpeakerNames())

	for _, name := range store.SpeakerNames() {
		want, ok := store.SpeakerData(name)
		require.True(t, ok)

		got, ok := reloaded.SpeakerData(name)
		require.True(t, ok)

		assert.True(t, want.GPTCondLatent.Equal(got.GPTCondLatent), name)
		assert.True(t, want.SpeakerEmbedding.Equal(got.SpeakerEmbedding), name)
		assert.Equal(t, want.GPTCondLatent.Shape, got.GPTCondLatent.Shape, name)
	}

	meta, ok := reloaded.SpeakerMetadata("A")
	require.True(t, ok)
	assert.Equal(t, "voice A", meta.Description)

	_, ok = reloaded.SpeakerMetadata("C")
	assert.False(t, ok)
}

func TestStore_SaveToOtherPathDoesNotCreateDirectories(t *testing.T) {
	t.Parallel()

	store, _ := newLoadedStore(t, map[string]float32{"A": 1})

	err := store.SaveFile(filepath.Join(t.TempDir(), "nested", "copy.spk"))
	require.Error(t, err)

	copyPath := filepath.Join(t.TempDir(), "copy.spk")
	require.NoError(t, store.SaveFile(copyPath))

	other, err := speaker.Open(copyPath, newTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, other.SpeakerNames())
}

func TestStore_UpdateSpeakerMetadataRenamesAtomically(t *testing.T) {
	t.Parallel()

	store, _ := newLoadedStore(t, map[string]float32{"old": 1, "other": 2})

	updated := speaker.Metadata{
		SpeakerName: "  new  ",
		Gender:      "Female",
		Style:       []string{"Calm", "Warm"},
	}

	outcome := store.UpdateSpeakerMetadata("old", updated)
	assert.Equal(t, speaker.OutcomeApplied, outcome)

	_, ok := store.SpeakerData("old")
	assert.False(t, ok)

	record, ok := store.SpeakerData("new")
	require.True(t, ok)
	assert.Equal(t, "new", record.Name)
	assert.True(t, record.SpeakerEmbedding.Equal(embedding.Filled(1, 4)))

	meta, ok := store.SpeakerMetadata("new")
	require.True(t, ok)
	assert.Equal(t, "new", meta.SpeakerName)
	assert.Equal(t, "Female", meta.Gender)
	assert.Equal(t, []string{"Calm", "Warm"}, meta.Style)

	_, ok = store.SpeakerMetadata("old")
	assert.False(t, ok)

	assert.Equal(t, []string{"new", "other"}, store.SpeakerNames())
}

func TestStore_UpdateSpeakerMetadataSameNameAndNoOps(t *testing.T) {
	t.Parallel()

	store, _ := newLoadedStore(t, map[string]float32{"A": 1})

	outcome := store.UpdateSpeakerMetadata("A", speaker.Metadata{SpeakerName: "A", Accent: "British"})
	assert.Equal(t, speaker.OutcomeApplied, outcome)

	meta, ok := store.SpeakerMetadata("A")
	require.True(t, ok)
	assert.Equal(t, "British", meta.Accent)

	assert.Equal(t, speaker.OutcomeSkipped, store.UpdateSpeakerMetadata("A", speaker.Metadata{SpeakerName: "   "}))
	assert.Equal(t, speaker.OutcomeSkipped, store.UpdateSpeakerMetadata("A", speaker.Metadata{Accent: "Indian"}))
	assert.Equal(t, speaker.OutcomeNotFound, store.UpdateSpeakerMetadata("ghost", speaker.Metadata{SpeakerName: "x"}))

	meta, ok = store.SpeakerMetadata("A")
	require.True(t, ok)
	assert.Equal(t, "British", meta.Accent)
}

func TestStore_UpdateSpeakerNameMovesMetadata(t *testing.T) {
	t.Parallel()

	store, _ := newLoadedStore(t, map[string]float32{"A": 1})

	assert.Equal(t, speaker.OutcomeApplied, store.UpdateSpeakerName("A", "Z"))
	assert.Equal(t, []string{"Z"}, store.SpeakerNames())

	meta, ok := store.SpeakerMetadata("Z")
	require.True(t, ok)
	assert.Equal(t, "voice A", meta.Description)
	assert.Equal(t, "Z", meta.SpeakerName)

	_, ok = store.SpeakerMetadata("A")
	assert.False(t, ok)

	assert.Equal(t, speaker.OutcomeNotFound, store.UpdateSpeakerName("A", "Y"))
	assert.Equal(t, speaker.OutcomeSkipped, store.UpdateSpeakerName("Z", speaker.MetadataKey))
}

func TestStore_RemoveSpeakerRemovesMetadata(t *testing.T) {
	t.Parallel()

	store, _ := newLoadedStore(t, map[string]float32{"A": 1, "B": 2})

	assert.Equal(t, speaker.OutcomeApplied, store.RemoveSpeaker("A"))

	_, ok := store.SpeakerData("A")
	assert.False(t, ok)

	_, ok = store.SpeakerMetadata("A")
	assert.False(t, ok)

	assert.Equal(t, speaker.OutcomeNotFound, store.RemoveSpeaker("A"))
	assert.Equal(t, []string{"B"}, store.SpeakerNames())
}

func TestStore_UpdateSpeakerNameKeepsBlankSpeakerName(t *testing.T) {
	t.Parallel()

	store, _ := newLoadedStore(t, nil)
	require.NoError(t, store.AddSpeaker("A", embedding.Filled(1, 1), embedding.Filled(1, 1), &speaker.Metadata{Gender: "Female"}))

	assert.Equal(t, speaker.OutcomeApplied, store.UpdateSpeakerName("A", "B"))

	meta, ok := store.SpeakerMetadata("B")
	require.True(t, ok)
	assert.Empty(t, meta.SpeakerName)
	assert.Equal(t, "Female", meta.Gender)
}

func TestStore_RestoreUndoesUnsavedChanges(t *testing.T) {
	t.Parallel()

	store, path := newLoadedStore(t, map[string]float32{"A": 1, "B": 2})

	snap := store.Snapshot()

	require.NoError(t, store.AddSpeaker("A", embedding.Filled(9, 1, 2, 3), embedding.Filled(9, 4), &speaker.Metadata{SpeakerName: "A"}))
	require.NoError(t, store.AddSpeaker("C", embedding.Filled(3, 1, 2, 3), embedding.Filled(3, 4), nil))
	assert.Equal(t, speaker.OutcomeApplied, store.RemoveSpeaker("B"))

	store.Restore(snap)

	assert.Equal(t, []string{"A", "B"}, store.SpeakerNames())
	assert.Equal(t, path, store.File())

	record, ok := store.SpeakerData("A")
	require.True(t, ok)
	assert.True(t, record.SpeakerEmbedding.Equal(embedding.Filled(1, 4)))

	meta, ok := store.SpeakerMetadata("A")
	require.True(t, ok)
	assert.Equal(t, "voice A", meta.Description)

	// The snapshot stays usable after a restore.
	assert.Equal(t, speaker.OutcomeApplied, store.RemoveSpeaker("A"))
	store.Restore(snap)
	assert.Equal(t, []string{"A", "B"}, store.SpeakerNames())
}

func TestStore_RestoreUnloaded(t *testing.T) {
	t.Parallel()

	store := speaker.New(newTestLogger(t))
	snap := store.Snapshot()

	store.Restore(snap)

	assert.False(t, store.Loaded())
	assert.Empty(t, store.SpeakerNames())
}

func TestStore_SpeakerDataReturnsCopies(t *testing.T) {
	t.Parallel()

	store, _ := newLoadedStore(t, map[string]float32{"A": 1})

	record, ok := store.SpeakerData("A")
	require.True(t, ok)

	record.SpeakerEmbedding.Data[0] = 99

	again, ok := store.SpeakerData("A")
	require.True(t, ok)
	assert.InDelta(t, 1, again.SpeakerEmbedding.Data[0], tolerance)
}

func TestStore_CreateSpeakerEmbeddingFromMix(t *testing.T) {
	t.Parallel()

	store, _ := newLoadedStore(t, map[string]float32{"A": 1, "B": 2, "C": 10})

	record, err := store.CreateSpeakerEmbeddingFromMix([]speaker.Weight{
		{Speaker: "A", Weight: 1},
		{Speaker: "B", Weight: 1},
		{Speaker: "ghost", Weight: 5},
	}, embedding.MethodMean)
	require.NoError(t, err)

	assert.True(t, record.SpeakerEmbedding.AllClose(embedding.Filled(1.5, 4), tolerance), "%v", record.SpeakerEmbedding.Data)
	assert.True(t, record.GPTCondLatent.AllClose(embedding.Filled(1.5, 1, 2, 3), tolerance))

	assert.Equal(t, []string{"A", "B", "C"}, store.SpeakerNames(), "mixing must not persist anything")
}

func TestStore_CreateSpeakerEmbeddingFromMixLastDuplicateWins(t *testing.T) {
	t.Parallel()

	store, _ := newLoadedStore(t, map[string]float32{"A": 1})

	record, err := store.CreateSpeakerEmbeddingFromMix([]speaker.Weight{
		{Speaker: "A", Weight: 5},
		{Speaker: "A", Weight: 2},
	}, embedding.MethodSum)
	require.NoError(t, err)
	assert.True(t, record.SpeakerEmbedding.AllClose(embedding.Filled(2, 4), tolerance))
}

func TestStore_SelectWeights(t *testing.T) {
	t.Parallel()

	store, _ := newLoadedStore(t, map[string]float32{"A": 1, "B": 2})

	selected := store.SelectWeights([]speaker.Weight{
		{Speaker: "B", Weight: 4},
		{Speaker: "ghost", Weight: 9},
		{Speaker: "A", Weight: 5},
		{Speaker: "A", Weight: 3},
	})

	assert.Equal(t, []speaker.Weight{{Speaker: "A", Weight: 3}, {Speaker: "B", Weight: 4}}, selected)
	assert.Empty(t, store.SelectWeights([]speaker.Weight{{Speaker: "ghost", Weight: 1}}))
	assert.Empty(t, speaker.New(newTestLogger(t)).SelectWeights([]speaker.Weight{{Speaker: "A", Weight: 1}}))
}

func TestStore_CreateSpeakerEmbeddingFromMixNoKnownSpeakers(t *testing.T) {
	t.Parallel()

	store, _ := newLoadedStore(t, map[string]float32{"A": 1})

	_, err := store.CreateSpeakerEmbeddingFromMix([]speaker.Weight{{Speaker: "ghost", Weight: 1}}, embedding.MethodMean)
	require.ErrorIs(t, err, speaker.ErrNoSpeakersSelected)

	_, err = store.CreateSpeakerEmbeddingFromMix(nil, embedding.MethodMean)
	require.ErrorIs(t, err, speaker.ErrNoSpeakersSelected)

	_, err = store.CreateSpeakerEmbeddingFromMix([]speaker.Weight{{Speaker: "A", Weight: 1}}, embedding.CombineMethod("bogus"))
	require.ErrorIs(t, err, embedding.ErrInvalidMethod)
}

func TestStore_MixedSpeakerPersistsOnlyAfterAddAndSave(t *testing.T) {
	t.Parallel()

	store, path := newLoadedStore(t, map[string]float32{"A": 1, "B": 2})

	mixed, err := store.CreateSpeakerEmbeddingFromMix([]speaker.Weight{{Speaker: "A", Weight: 1}, {Speaker: "B", Weight: 1}}, embedding.MethodMean)
	require.NoError(t, err)

	require.NoError(t, store.AddSpeaker("AB", mixed.GPTCondLatent, mixed.SpeakerEmbedding, nil))
	require.NoError(t, store.SaveFile(""))

	reloaded, err := speaker.Open(path, newTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "AB", "B"}, reloaded.SpeakerNames())
}

func TestMixFileNameAndParseWeight(t *testing.T) {
	t.Parallel()

	name := speaker.MixFileName([]speaker.Weight{{Speaker: "Alice", Weight: 1}, {Speaker: "Bob", Weight: 0.5}})
	assert.Equal(t, "Alice_1_Bob_0.5_", name)

	w, err := speaker.ParseWeight("Bob=0.25")
	require.NoError(t, err)
	assert.Equal(t, speaker.Weight{Speaker: "Bob", Weight: 0.25}, w)

	w, err = speaker.ParseWeight("Alice")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, w.Weight, tolerance)

	_, err = speaker.ParseWeight("=1")
	require.ErrorIs(t, err, speaker.ErrEmptyName)

	_, err = speaker.ParseWeight("Bob=lots")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "Bob=lots"))
}
