package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/speaker-forge/internal/fsutil"
	"github.com/book-expert/speaker-forge/internal/objectstore"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

const fetchedFilePerms = 0o600

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <name>...",
		Short: "Write the selected speakers to a new file beside the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.withStore(func(_ *cobra.Command, args []string) error {
			path, err := a.store.CreateSubsetFile(args)
			if err != nil {
				return err
			}

			a.printf("Exported to %s\n", path)

			return nil
		}),
	}
}

func newImportCmd(a *app) *cobra.Command {
	var names []string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Copy speakers from another speaker file into the store",
		Long: `Copy speakers from another speaker file into the store.

Speakers with the same name are overwritten. Without --speaker every speaker in
the file is imported.`,
		Args: cobra.ExactArgs(1),
		RunE: a.withStore(func(_ *cobra.Command, args []string) error {
			entries, err := a.store.ImportSpeakersFromFile(args[0])
			if err != nil {
				return err
			}

			if entries == nil {
				a.printf("%s holds no speakers, nothing imported\n", args[0])

				return nil
			}

			for _, name := range names {
				if _, exists := a.store.SpeakerData(name); exists {
					a.log.Warn("Import overwrites existing speaker %s", name)
				}
			}

			imported, err := a.store.ImportSpeakers(entries, names)
			if err != nil {
				return err
			}

			for _, name := range imported {
				a.printf("Imported %s\n", name)
			}

			if len(imported) == 0 {
				return nil
			}

			return a.save()
		}),
	}

	cmd.Flags().StringSliceVarP(&names, "speaker", "s", nil, "speakers to import")

	return cmd
}

// connectBucket opens the speaker-file bucket on the configured NATS server.
func (a *app) connectBucket(bucket string) (*nats.Conn, *objectstore.NatsObjectStore, error) {
	natsConnection, err := nats.Connect(a.cfg.NATS.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", a.cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, bucket)
	if err != nil {
		natsConnection.Close()

		return nil, nil, err
	}

	return natsConnection, store, nil
}

func newPublishCmd(a *app) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "publish [file]",
		Short: "Upload the speaker file, or another file, to the speaker bucket",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.setup(true)
			if err != nil {
				return err
			}

			path := a.cfg.Paths.SpeakersFile
			if len(args) == 1 {
				path = args[0]
			}

			err = fsutil.CheckFile(path)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			if key == "" {
				key = filepath.Base(path)
			}

			natsConnection, store, err := a.connectBucket(a.cfg.NATS.SpeakerObjectStoreBucket)
			if err != nil {
				return err
			}
			defer natsConnection.Close()

			err = store.Upload(cmd.Context(), key, data)
			if err != nil {
				return err
			}

			a.log.Info("Published %s as %s/%s", path, store.Bucket(), key)
			a.printf("Published %s (%s) as %s\n", path, fsutil.FormatFileSize(int64(len(data))), key)

			return nil
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "object key; defaults to the file name")

	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	var (
		output string
		list   bool
	)

	cmd := &cobra.Command{
		Use:   "fetch [key]",
		Short: "Download a speaker file from the speaker bucket",
		Long: `Download a speaker file from the speaker bucket.

The downloaded file can then be merged with 'speaker-forge import'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.setup(true)
			if err != nil {
				return err
			}

			natsConnection, store, err := a.connectBucket(a.cfg.NATS.SpeakerObjectStoreBucket)
			if err != nil {
				return err
			}
			defer natsConnection.Close()

			if list || len(args) == 0 {
				keys, listErr := store.List(cmd.Context())
				if listErr != nil {
					return listErr
				}

				for _, key := range keys {
					a.printf("%s\n", key)
				}

				return nil
			}

			key := args[0]

			data, err := store.Download(cmd.Context(), key)
			if err != nil {
				return err
			}

			if output == "" {
				output = filepath.Join(filepath.Dir(a.cfg.Paths.SpeakersFile), filepath.Base(key))
			}

			err = fsutil.EnsureDir(filepath.Dir(output))
			if err != nil {
				return err
			}

			err = fsutil.WriteFileAtomic(output, data, fetchedFilePerms)
			if err != nil {
				return err
			}

			a.printf("Fetched %s to %s\n", key, output)

			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "destination path; defaults to beside the speaker file")
	cmd.Flags().BoolVar(&list, "list", false, "list the keys in the bucket")

	return cmd
}
