package speaker

import (
	"bytes"
	"fmt"
	"maps"
	"os"

	"github.com/book-expert/speaker-forge/internal/embedding"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// File layout (msgpack):
//
//	{
//	  "<speaker>": {"gpt_cond_latent": tensor, "speaker_embedding": tensor},
//	  ...
//	  "__speaker_forge_metadata__": {"<speaker>": metadata, ...}
//	}
//
// where tensor is {"shape": [int...], "data": [float32...]}. Files written by
// older releases carry a "metadata" field inside each speaker entry and may
// lack the reserved key; decodeFile folds those into the side map.

const filePermissions = 0o600

// recordWire is the on-disk shape of one speaker entry. Metadata is only ever
// read; it is the legacy per-record location.
type recordWire struct {
	GPTCondLatent    embedding.Tensor `msgpack:"gpt_cond_latent"`
	SpeakerEmbedding embedding.Tensor `msgpack:"speaker_embedding"`
	Metadata         *Metadata        `msgpack:"metadata,omitempty"`
}

// contents is the canonical in-memory form of a store file.
type contents struct {
	records  map[string]Record
	metadata map[string]Metadata
}

func newContents() *contents {
	return &contents{
		records:  make(map[string]Record),
		metadata: make(map[string]Metadata),
	}
}

// clone copies both maps. Records and metadata are replaced, never modified in
// place, so the values themselves are shared.
func (c *contents) clone() *contents {
	if c == nil {
		return nil
	}

	return &contents{
		records:  maps.Clone(c.records),
		metadata: maps.Clone(c.metadata),
	}
}

// decodeResult carries the decoded contents, how many metadata entries were
// lifted from the legacy per-record location and how many side-map entries
// were dropped for lacking a speaker.
type decodeResult struct {
	contents      *contents
	migratedCount int
	orphanCount   int
}

// readFile reads and decodes a store file.
func readFile(path string) (*decodeResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrStoreUnavailable, ErrFileNotFound, err)
	}

	result, err := decodeFile(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %s: %w", ErrStoreUnavailable, ErrMalformedFile, path, err)
	}

	return result, nil
}

// decodeFile parses either file generation into the canonical form.
func decodeFile(data []byte) (*decodeResult, error) {
	decoder := msgpack.NewDecoder(bytes.NewReader(data))

	code, err := decoder.PeekCode()
	if err != nil {
		return nil, fmt.Errorf("failed to read file header: %w", err)
	}

	if !msgpcode.IsFixedMap(code) && code != msgpcode.Map16 && code != msgpcode.Map32 {
		return nil, ErrNotMapping
	}

	var raw map[string]msgpack.RawMessage

	err = decoder.Decode(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode speaker mapping: %w", err)
	}

	result := &decodeResult{contents: newContents()}

	metaRaw, hasMeta := raw[MetadataKey]
	if hasMeta {
		var side map[string]Metadata

		err = msgpack.Unmarshal(metaRaw, &side)
		if err != nil {
			return nil, fmt.Errorf("failed to decode metadata map: %w", err)
		}

		for name, meta := range side {
			result.contents.metadata[name] = meta
		}
	}

	for name, value := range raw {
		if name == MetadataKey {
			continue
		}

		var wire recordWire

		err = msgpack.Unmarshal(value, &wire)
		if err != nil {
			return nil, fmt.Errorf("failed to decode speaker %q: %w", name, err)
		}

		record, recordErr := NewRecord(name, wire.GPTCondLatent, wire.SpeakerEmbedding)
		if recordErr != nil {
			return nil, fmt.Errorf("speaker %q: %w", name, recordErr)
		}

		result.contents.records[name] = record

		// Legacy metadata only fills gaps; the side map wins.
		if wire.Metadata != nil && !wire.Metadata.IsZero() {
			if _, exists := result.contents.metadata[name]; !exists {
				result.contents.metadata[name] = *wire.Metadata
				result.migratedCount++
			}
		}
	}

	for name := range result.contents.metadata {
		if _, ok := result.contents.records[name]; !ok {
			delete(result.contents.metadata, name)
			result.orphanCount++
		}
	}

	return result, nil
}

// encodeFile serialises the canonical form in the current layout. Map keys are
// sorted so identical stores produce identical bytes.
func encodeFile(c *contents) ([]byte, error) {
	raw := make(map[string]any, len(c.records)+1)

	for name, record := range c.records {
		raw[name] = recordWire{
			GPTCondLatent:    record.GPTCondLatent,
			SpeakerEmbedding: record.SpeakerEmbedding,
		}
	}

	side := make(map[string]Metadata, len(c.metadata))
	for name, meta := range c.metadata {
		side[name] = meta
	}

	raw[MetadataKey] = side

	var buf bytes.Buffer

	encoder := msgpack.NewEncoder(&buf)
	encoder.SetSortMapKeys(true)

	err := encoder.Encode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode speaker file: %w", err)
	}

	return buf.Bytes(), nil
}
