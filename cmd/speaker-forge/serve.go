package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/book-expert/speaker-forge/internal/objectstore"
	"github.com/book-expert/speaker-forge/internal/speaker"
	"github.com/book-expert/speaker-forge/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Answer preview and mix requests over NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := a.setup(true)
			if err != nil {
				return err
			}

			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	store, err := speaker.Open(a.cfg.Paths.SpeakersFile, a.log)
	if err != nil {
		return fmt.Errorf("%s: %w", speaker.Describe(err), err)
	}

	client := a.modelClient()

	err = client.HealthCheck(ctx)
	if err != nil {
		a.log.Warn("Model service is not healthy yet: %v", err)
	}

	natsConnection, err := nats.Connect(a.cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", a.cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	audio, err := objectstore.New(jetstreamContext, a.cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return err
	}

	natsWorker := worker.NewNatsWorker(
		natsConnection,
		worker.Subjects{Preview: a.cfg.NATS.PreviewSubject, Mix: a.cfg.NATS.MixSubject},
		audio,
		client,
		worker.NewSession(store),
		a.log,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.log.System("speaker-forge serving %d speakers from %s", len(store.SpeakerNames()), store.File())

	return natsWorker.Run(ctx)
}
