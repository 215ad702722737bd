package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/speaker-forge/internal/fsutil"
	"github.com/book-expert/speaker-forge/internal/speaker"
	"github.com/spf13/cobra"
)

var (
	errSpeakerNotFound = errors.New("speaker not found")
	errFileExists      = errors.New("speaker file already exists")
)

// speakerView is the printable form of one speaker.
type speakerView struct {
	Name           string            `json:"name"`
	LatentShape    []int             `json:"gpt_cond_latent_shape,omitempty"`
	EmbeddingShape []int             `json:"speaker_embedding_shape,omitempty"`
	Metadata       *speaker.Metadata `json:"metadata,omitempty"`
}

func (a *app) view(name string, withShapes bool) speakerView {
	v := speakerView{Name: name}

	if meta, ok := a.store.SpeakerMetadata(name); ok {
		v.Metadata = &meta
	}

	if record, ok := a.store.SpeakerData(name); ok && withShapes {
		v.LatentShape = record.GPTCondLatent.Shape
		v.EmbeddingShape = record.SpeakerEmbedding.Shape
	}

	return v
}

func (a *app) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	a.printf("%s\n", data)

	return nil
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an empty speaker file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			err := a.setup(false)
			if err != nil {
				return err
			}

			path := a.cfg.Paths.SpeakersFile
			if fsutil.IsValidFile(path) {
				return fmt.Errorf("%w: %s", errFileExists, path)
			}

			err = speaker.NewFile(path)
			if err != nil {
				return err
			}

			a.log.Info("Created speaker file %s", path)
			a.printf("Created %s\n", path)

			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the speakers in the file",
		Args:  cobra.NoArgs,
		RunE: a.withStore(func(_ *cobra.Command, _ []string) error {
			names := a.store.SpeakerNames()

			if asJSON {
				views := make([]speakerView, 0, len(names))
				for _, name := range names {
					views = append(views, a.view(name, false))
				}

				return a.printJSON(views)
			}

			for _, name := range names {
				meta, _ := a.store.SpeakerMetadata(name)
				a.printf("%s\t%s\n", name, meta.Description)
			}

			return nil
		}),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print names and metadata as JSON")

	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a speaker's metadata and tensor shapes",
		Args:  cobra.ExactArgs(1),
		RunE: a.withStore(func(_ *cobra.Command, args []string) error {
			if _, ok := a.store.SpeakerData(args[0]); !ok {
				return fmt.Errorf("%w: %s", errSpeakerNotFound, args[0])
			}

			return a.printJSON(a.view(args[0], true))
		}),
	}
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Rename a speaker, keeping its metadata",
		Args:  cobra.ExactArgs(2),
		RunE: a.withStore(func(_ *cobra.Command, args []string) error {
			oldName, newName := args[0], strings.TrimSpace(args[1])

			err := a.reportOutcome(oldName, a.store.UpdateSpeakerName(oldName, newName))
			if err != nil {
				return err
			}

			a.printf("Renamed %s to %s\n", oldName, newName)

			return a.save()
		}),
	}
}

// metadataFlags binds the editable metadata attributes to command flags.
type metadataFlags struct {
	name          string
	ageRange      string
	gender        string
	accent        string
	description   string
	tonalQuality  []string
	style         []string
	genre         []string
	characterType []string
}

func (f *metadataFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.name, "name", "", "new speaker name")
	flags.StringVar(&f.ageRange, "age-range", "", "age range, e.g. Adult")
	flags.StringVar(&f.gender, "gender", "", "gender")
	flags.StringVar(&f.accent, "accent", "", "accent")
	flags.StringVar(&f.description, "description", "", "free-text description")
	flags.StringSliceVar(&f.tonalQuality, "tonal-quality", nil, "tonal qualities")
	flags.StringSliceVar(&f.style, "style", nil, "speaking styles")
	flags.StringSliceVar(&f.genre, "genre", nil, "genres")
	flags.StringSliceVar(&f.characterType, "character-type", nil, "character types")
}

// apply overwrites the attributes whose flags were set on cmd.
func (f *metadataFlags) apply(cmd *cobra.Command, meta *speaker.Metadata) {
	flags := cmd.Flags()

	setters := map[string]func(){
		"name":           func() { meta.SpeakerName = f.name },
		"age-range":      func() { meta.AgeRange = f.ageRange },
		"gender":         func() { meta.Gender = f.gender },
		"accent":         func() { meta.Accent = f.accent },
		"description":    func() { meta.Description = f.description },
		"tonal-quality":  func() { meta.TonalQuality = f.tonalQuality },
		"style":          func() { meta.Style = f.style },
		"genre":          func() { meta.Genre = f.genre },
		"character-type": func() { meta.CharacterType = f.characterType },
	}

	for flag, set := range setters {
		if flags.Changed(flag) {
			set()
		}
	}
}

func newEditCmd(a *app) *cobra.Command {
	var flags metadataFlags

	cmd := &cobra.Command{
		Use:   "edit <name>",
		Short: "Edit a speaker's metadata; --name also renames it",
		Args:  cobra.ExactArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			name := args[0]

			meta, _ := a.store.SpeakerMetadata(name)
			meta.SpeakerName = name

			flags.apply(cmd, &meta)

			err := a.reportOutcome(name, a.store.UpdateSpeakerMetadata(name, meta))
			if err != nil {
				return err
			}

			a.printf("Updated %s\n", strings.TrimSpace(meta.SpeakerName))

			return a.save()
		}),
	}

	flags.register(cmd)

	return cmd
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>...",
		Short: "Remove speakers and their metadata",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.withStore(func(_ *cobra.Command, args []string) error {
			removed := 0

			for _, name := range args {
				if a.store.RemoveSpeaker(name) == speaker.OutcomeApplied {
					removed++

					a.printf("Removed %s\n", name)
				}
			}

			if removed == 0 {
				return fmt.Errorf("%w: %s", errSpeakerNotFound, strings.Join(args, ", "))
			}

			return a.save()
		}),
	}
}

// reportOutcome turns a soft outcome into a command error.
func (a *app) reportOutcome(name string, outcome speaker.Outcome) error {
	switch outcome {
	case speaker.OutcomeApplied:
		return nil
	case speaker.OutcomeNotFound:
		return fmt.Errorf("%w: %s", errSpeakerNotFound, name)
	default:
		return fmt.Errorf("%s: nothing changed for %s", outcome, name)
	}
}
