// Package worker serves speaker previews and mixes over NATS request/reply.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speaker-forge/internal/core"
	"github.com/book-expert/speaker-forge/internal/embedding"
	"github.com/book-expert/speaker-forge/internal/speaker"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	handleMessageTimeout = 2 * time.Minute
	audioKeyExtension    = ".wav"
)

// Subjects names the NATS subjects the worker answers on.
type Subjects struct {
	Preview string
	Mix     string
}

// NatsWorker answers preview and mix requests against one speaker store.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	audio          core.ObjectStore
	gateway        core.ModelGateway
	session        *Session
	log            *logger.Logger
}

// NewNatsWorker creates a worker. audio receives the synthesized previews.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	audio core.ObjectStore,
	gateway core.ModelGateway,
	session *Session,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		audio:          audio,
		gateway:        gateway,
		session:        session,
		log:            log,
	}
}

// Run subscribes to both subjects and blocks until ctx is cancelled.
func (w *NatsWorker) Run(ctx context.Context) error {
	previewSub, err := w.natsConnection.Subscribe(w.subjects.Preview, w.handlePreview)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subjects.Preview, err)
	}

	mixSub, err := w.natsConnection.Subscribe(w.subjects.Mix, w.handleMix)
	if err != nil {
		_ = previewSub.Unsubscribe()

		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subjects.Mix, err)
	}

	w.log.Info("Listening for previews on %s and mixes on %s", w.subjects.Preview, w.subjects.Mix)

	<-ctx.Done()

	drainErr := errors.Join(previewSub.Drain(), mixSub.Drain())
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscriptions: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handlePreview(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var req PreviewRequest

	err := json.Unmarshal(msg.Data, &req)
	if err != nil {
		w.reply(msg, req.Header.WorkflowID, ErrorReply{Error: fmt.Sprintf("failed to unmarshal preview request: %v", err)})

		return
	}

	result, err := w.Preview(ctx, &req)
	if err != nil {
		w.log.Error("Preview of %s failed for workflow %s: %v", req.Speaker, req.Header.WorkflowID, err)
		w.reply(msg, req.Header.WorkflowID, ErrorReply{Header: req.Header, Error: speaker.Describe(err)})

		return
	}

	w.reply(msg, req.Header.WorkflowID, result)
}

func (w *NatsWorker) handleMix(msg *nats.Msg) {
	var req MixRequest

	err := json.Unmarshal(msg.Data, &req)
	if err != nil {
		w.reply(msg, req.Header.WorkflowID, ErrorReply{Error: fmt.Sprintf("failed to unmarshal mix request: %v", err)})

		return
	}

	result, err := w.Mix(&req)
	if err != nil {
		w.log.Error("Mix %s failed for workflow %s: %v", req.Name, req.Header.WorkflowID, err)
		w.reply(msg, req.Header.WorkflowID, ErrorReply{Header: req.Header, Error: speaker.Describe(err)})

		return
	}

	w.reply(msg, req.Header.WorkflowID, result)
}

// Preview synthesizes req.Text with a stored voice and uploads the audio.
// With req.Cache set the upload becomes the speaker's sample, the store is
// saved and the previous sample object is deleted.
func (w *NatsWorker) Preview(ctx context.Context, req *PreviewRequest) (*PreviewResult, error) {
	err := req.Validate()
	if err != nil {
		return nil, err
	}

	var record speaker.Record

	err = w.session.Do(func(store *speaker.Store) error {
		found, ok := store.SpeakerData(req.Speaker)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSpeaker, req.Speaker)
		}

		record = found

		return nil
	})
	if err != nil {
		return nil, err
	}

	audioPath, err := w.gateway.Synthesize(ctx, core.SynthesisRequest{
		Language:     req.Language,
		Text:         req.Text,
		Latent:       record.GPTCondLatent,
		Embedding:    record.SpeakerEmbedding,
		FileNameHint: req.Speaker,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize preview: %w", err)
	}

	defer w.removeTemp(audioPath)

	audioData, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	audioKey := uuid.NewString() + audioKeyExtension

	err = w.audio.Upload(ctx, audioKey, audioData)
	if err != nil {
		return nil, fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	result := &PreviewResult{Header: req.Header, Speaker: req.Speaker, AudioKey: audioKey}
	if !req.Cache {
		return result, nil
	}

	previous, err := w.cacheSample(req, audioKey)
	if err != nil {
		deleteErr := w.audio.Delete(ctx, audioKey)
		if deleteErr != nil {
			w.log.Warn("Failed to delete uncached preview %s: %v", audioKey, deleteErr)
		}

		return nil, err
	}

	if previous != "" && previous != audioKey {
		deleteErr := w.audio.Delete(ctx, previous)
		if deleteErr != nil {
			w.log.Warn("Failed to delete replaced sample %s: %v", previous, deleteErr)
		}
	}

	result.Cached = true

	return result, nil
}

// cacheSample records audioKey as the speaker's sample and saves the store.
// It returns the audio reference of the sample it replaced.
func (w *NatsWorker) cacheSample(req *PreviewRequest, audioKey string) (string, error) {
	var previous string

	err := w.session.Update(func(store *speaker.Store) error {
		meta, _ := store.SpeakerMetadata(req.Speaker)
		if meta.Sample != nil {
			previous = meta.Sample.AudioRef
		}

		meta.Sample = &speaker.Sample{Text: req.Text, AudioRef: audioKey, Language: req.Language}

		if store.SetSpeakerMetadata(req.Speaker, meta) != speaker.OutcomeApplied {
			return fmt.Errorf("%w: %s", ErrUnknownSpeaker, req.Speaker)
		}

		return store.SaveFile("")
	})
	if err != nil {
		return "", fmt.Errorf("failed to cache sample for %s: %w", req.Speaker, err)
	}

	return previous, nil
}

// Mix combines the weighted speakers into a new speaker called req.Name.
func (w *NatsWorker) Mix(req *MixRequest) (*MixResult, error) {
	err := req.Validate()
	if err != nil {
		return nil, err
	}

	method := embedding.MethodMean
	if req.Method != "" {
		method, err = embedding.ParseCombineMethod(req.Method)
		if err != nil {
			return nil, err
		}
	}

	result := &MixResult{Header: req.Header, Name: req.Name, Method: string(method), Saved: req.Save}

	err = w.session.Update(func(store *speaker.Store) error {
		record, mixErr := store.CreateSpeakerEmbeddingFromMix(req.Weights, method)
		if mixErr != nil {
			return mixErr
		}

		_, result.Overwrote = store.SpeakerData(req.Name)
		if result.Overwrote {
			w.log.Warn("Mix %s replaces an existing speaker", req.Name)
		}

		mixErr = store.AddSpeaker(req.Name, record.GPTCondLatent, record.SpeakerEmbedding, req.Metadata)
		if mixErr != nil {
			return mixErr
		}

		if req.Save {
			return store.SaveFile("")
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	w.log.Info("Mixed %s from %s with %s", req.Name, speaker.MixFileName(req.Weights), method)

	return result, nil
}

func (w *NatsWorker) removeTemp(path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		w.log.Warn("Failed to remove temporary audio %s: %v", path, err)
	}
}

// reply marshals payload and responds to msg.
func (w *NatsWorker) reply(msg *nats.Msg, workflowID string, payload any) {
	replyData, err := json.Marshal(payload)
	if err != nil {
		w.log.Error("Failed to marshal reply for workflow %s: %v", workflowID, err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", workflowID, err)
	}
}
