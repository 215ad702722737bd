package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/speaker-forge/internal/core"
	"github.com/book-expert/speaker-forge/internal/embedding"
	"github.com/book-expert/speaker-forge/internal/speaker"
	"github.com/spf13/cobra"
)

var (
	errNoWeights       = errors.New("at least one --weight is required")
	errNormalizeMethod = errors.New("--normalize averages with the sum method")
)

func newMixCmd(a *app) *cobra.Command {
	var (
		weightSpecs []string
		methodName  string
		normalize   bool
		description string
		previewText string
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "mix <name>",
		Short: "Combine weighted speakers into a new speaker",
		Long: `Combine weighted speakers into a new speaker.

Methods: ` + joinMethods() + `. MEAN divides by the number of speakers, not by
the weight total. --normalize scales the weights of the selected speakers to
sum to 1 and adds them up, giving a weighted average; it cannot be combined
with another --method.

Examples:
  speaker-forge mix Blend --weight Alice=1 --weight Bob=0.5
  speaker-forge mix Bright --method normalized_sum -w Alice -w Carol=2 --speak "Hello there"`,
		Args: cobra.ExactArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])

			weights, err := parseWeights(weightSpecs)
			if err != nil {
				return err
			}

			method, err := embedding.ParseCombineMethod(methodName)
			if err != nil {
				return err
			}

			if normalize {
				if cmd.Flags().Changed("method") && method != embedding.MethodSum {
					return fmt.Errorf("%w, not %s", errNormalizeMethod, method)
				}

				method = embedding.MethodSum

				weights, err = a.normalizeWeights(weights)
				if err != nil {
					return err
				}
			}

			record, err := a.store.CreateSpeakerEmbeddingFromMix(weights, method)
			if err != nil {
				return fmt.Errorf("%s: %w", speaker.Describe(err), err)
			}

			a.printf("Mixed %s with %s: latent %v, embedding %v\n",
				speaker.MixFileName(weights), method, record.GPTCondLatent.Shape, record.SpeakerEmbedding.Shape)

			if previewText != "" {
				path, speakErr := a.modelClient().Synthesize(cmd.Context(), core.SynthesisRequest{
					Language:     a.cfg.Model.Language,
					Text:         previewText,
					Latent:       record.GPTCondLatent,
					Embedding:    record.SpeakerEmbedding,
					FileNameHint: speaker.MixFileName(weights),
				})
				if speakErr != nil {
					return fmt.Errorf("failed to preview mix: %w", speakErr)
				}

				a.printf("Preview written to %s\n", path)
			}

			if dryRun {
				return nil
			}

			if _, exists := a.store.SpeakerData(name); exists {
				a.log.Warn("Speaker %s already exists and will be overwritten", name)
				a.printf("Overwriting existing speaker %s\n", name)
			}

			meta := &speaker.Metadata{SpeakerName: name, Description: description}

			err = a.store.AddSpeaker(name, record.GPTCondLatent, record.SpeakerEmbedding, meta)
			if err != nil {
				return err
			}

			a.printf("Added %s\n", name)

			return a.save()
		}),
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&weightSpecs, "weight", "w", nil, "speaker weight as name=value; value defaults to 1")
	flags.StringVarP(&methodName, "method", "m", string(embedding.MethodMean), "combine method")
	flags.BoolVar(&normalize, "normalize", false, "weighted average: scale weights to sum to 1 and use the sum method")
	flags.StringVar(&description, "description", "", "description stored with the new speaker")
	flags.StringVar(&previewText, "speak", "", "synthesize this text with the mixed voice")
	flags.BoolVar(&dryRun, "dry-run", false, "do not add the mix to the file")

	return cmd
}

func parseWeights(specs []string) ([]speaker.Weight, error) {
	if len(specs) == 0 {
		return nil, errNoWeights
	}

	weights := make([]speaker.Weight, 0, len(specs))

	for _, arg := range specs {
		w, err := speaker.ParseWeight(arg)
		if err != nil {
			return nil, err
		}

		weights = append(weights, w)
	}

	return weights, nil
}

// normalizeWeights scales the weights the store will actually use so that
// they sum to one.
func (a *app) normalizeWeights(weights []speaker.Weight) ([]speaker.Weight, error) {
	selected := a.store.SelectWeights(weights)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%s: %w", speaker.Describe(speaker.ErrNoSpeakersSelected), speaker.ErrNoSpeakersSelected)
	}

	values := make([]float64, len(selected))
	for i, w := range selected {
		values[i] = w.Weight
	}

	normalized, err := embedding.NormalizeWeights(values)
	if err != nil {
		return nil, err
	}

	for i := range selected {
		selected[i].Weight = normalized[i]
	}

	return selected, nil
}

func joinMethods() string {
	methods := embedding.Methods()
	names := make([]string, len(methods))

	for i, m := range methods {
		names[i] = string(m)
	}

	return strings.Join(names, ", ")
}
