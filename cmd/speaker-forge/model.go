package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/book-expert/speaker-forge/internal/core"
	"github.com/book-expert/speaker-forge/internal/fsutil"
	"github.com/book-expert/speaker-forge/internal/speaker"
	"github.com/spf13/cobra"
)

func newExtractCmd(a *app) *cobra.Command {
	var flags metadataFlags

	cmd := &cobra.Command{
		Use:   "extract <name> <audio>...",
		Short: "Create a speaker from reference audio through the model service",
		Args:  cobra.MinimumNArgs(2),
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			audio := args[1:]

			if !fsutil.IsValidFileList(audio) {
				return fmt.Errorf("reference audio must be existing files: %s", strings.Join(audio, ", "))
			}

			latent, speakerEmbedding, err := a.modelClient().ExtractEmbedding(cmd.Context(), audio)
			if err != nil {
				return fmt.Errorf("failed to extract speaker from audio: %w", err)
			}

			meta := &speaker.Metadata{SpeakerName: name}
			flags.apply(cmd, meta)
			meta.SpeakerName = name

			if _, exists := a.store.SpeakerData(name); exists {
				a.log.Warn("Speaker %s already exists and will be overwritten", name)
			}

			err = a.store.AddSpeaker(name, latent, speakerEmbedding, meta)
			if err != nil {
				return err
			}

			a.printf("Extracted %s from %d file(s): latent %v, embedding %v\n",
				name, len(audio), latent.Shape, speakerEmbedding.Shape)

			return a.save()
		}),
	}

	flags.register(cmd)

	return cmd
}

func newSpeakCmd(a *app) *cobra.Command {
	var (
		language string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "speak <name> <text>",
		Short: "Synthesize text with a stored speaker",
		Args:  cobra.ExactArgs(2),
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			name, text := args[0], args[1]

			record, ok := a.store.SpeakerData(name)
			if !ok {
				return fmt.Errorf("%w: %s", errSpeakerNotFound, name)
			}

			if language == "" {
				language = a.cfg.Model.Language
			}

			path, err := a.modelClient().Synthesize(cmd.Context(), core.SynthesisRequest{
				Language:     language,
				Text:         text,
				Latent:       record.GPTCondLatent,
				Embedding:    record.SpeakerEmbedding,
				FileNameHint: name,
			})
			if err != nil {
				return fmt.Errorf("failed to synthesize: %w", err)
			}

			if output != "" {
				err = os.Rename(path, output)
				if err != nil {
					return fmt.Errorf("failed to move audio to %s: %w", output, err)
				}

				path = output
			}

			a.printf("Audio written to %s\n", path)

			return nil
		}),
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "language code; defaults to model.language")
	cmd.Flags().StringVarP(&output, "output", "o", "", "where to write the WAV file")

	return cmd
}
