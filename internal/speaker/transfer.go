package speaker

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/book-expert/speaker-forge/internal/fsutil"
)

// Export layout beside the main store file.
const (
	ExportDirName    = "speaker_forge"
	exportFilePrefix = "speakers_xtts_sf_"
	// FileExtension is the extension used for store files written by this package.
	FileExtension = ".spk"
)

// ImportSpeakersFromFile reads another store file without touching this store.
// An invalid path fails; a decodable file that is not a speaker mapping is
// logged and yields nil without an error.
func (s *Store) ImportSpeakersFromFile(path string) (map[string]Entry, error) {
	err := fsutil.CheckFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrStoreUnavailable, ErrFileNotFound, err)
	}

	result, err := readFile(path)
	if err != nil {
		if errors.Is(err, ErrNotMapping) {
			s.log.Warn("Invalid speaker file %s: %v", path, err)

			return nil, nil
		}

		return nil, err
	}

	entries := make(map[string]Entry, len(result.contents.records))

	for name, record := range result.contents.records {
		entry := Entry{Record: record}

		if meta, ok := result.contents.metadata[name]; ok {
			entry.Metadata = &meta
		}

		entries[name] = entry
	}

	return entries, nil
}

// ImportSpeakers adds the entries named in names to this store, metadata
// included, and returns the names actually imported. A nil names slice imports
// every entry. Names missing from entries are skipped with a warning.
func (s *Store) ImportSpeakers(entries map[string]Entry, names []string) ([]string, error) {
	if s.data == nil {
		return nil, ErrStoreNotLoaded
	}

	if names == nil {
		names = sortedEntryNames(entries)
	}

	imported := make([]string, 0, len(names))

	for _, name := range names {
		entry, ok := entries[name]
		if !ok {
			s.log.Warn("Speaker %s is not in the import file", name)

			continue
		}

		err := s.AddSpeaker(name, entry.Record.GPTCondLatent.Clone(), entry.Record.SpeakerEmbedding.Clone(), entry.Metadata)
		if err != nil {
			return imported, fmt.Errorf("failed to import speaker %s: %w", name, err)
		}

		imported = append(imported, name)
	}

	return imported, nil
}

// CreateSubsetFile writes the selected speakers and their metadata to a new,
// timestamped file in the export directory beside the store file, creating
// that directory when needed, and returns the new file's path. Tensors are
// copied so the export shares nothing with the live store.
func (s *Store) CreateSubsetFile(selected []string) (string, error) {
	if s.data == nil {
		return "", ErrStoreNotLoaded
	}

	subset := newContents()

	for _, name := range selected {
		record, ok := s.data.records[name]
		if !ok {
			s.log.Warn("Speaker %s does not exist, skipping export", name)

			continue
		}

		subset.records[name] = record.Clone()

		if meta, hasMeta := s.data.metadata[name]; hasMeta {
			subset.metadata[name] = meta.Clone()
		}
	}

	storeDir, err := filepath.Abs(filepath.Dir(s.file))
	if err != nil {
		return "", fmt.Errorf("failed to resolve store directory: %w", err)
	}

	exportDir := filepath.Join(storeDir, ExportDirName)

	err = fsutil.EnsureDir(exportDir)
	if err != nil {
		return "", err
	}

	outPath := exportPath(exportDir, time.Now().Unix())

	err = writeContents(outPath, subset)
	if err != nil {
		return "", err
	}

	s.log.Info("Exported %d speakers to %s", len(subset.records), outPath)

	return outPath, nil
}

// NewFile writes an empty store file at path so that it can be loaded. Parent
// directories are created.
func NewFile(path string) error {
	err := fsutil.EnsureDir(filepath.Dir(path))
	if err != nil {
		return err
	}

	return writeContents(path, newContents())
}

// exportPath returns the first free export file name for stamp, adding a
// numeric suffix when an export from the same second already exists.
func exportPath(dir string, stamp int64) string {
	base := fmt.Sprintf("%s%d", exportFilePrefix, stamp)
	path := filepath.Join(dir, base+FileExtension)

	for n := 1; fsutil.IsValidFile(path); n++ {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, n, FileExtension))
	}

	return path
}

func sortedEntryNames(entries map[string]Entry) []string {
	return slices.Sorted(maps.Keys(entries))
}
