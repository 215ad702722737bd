// Package gateway implements core.ModelGateway against an XTTS inference
// server reachable over HTTP.
//
// The server owns model loading and inference. This client only moves audio
// files, tensors and text across the wire and writes synthesized audio to disk.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/book-expert/speaker-forge/internal/core"
	"github.com/book-expert/speaker-forge/internal/embedding"
	"github.com/book-expert/speaker-forge/internal/fsutil"
)

// API endpoints and paths.
const (
	apiExtractSpeaker = "/v1/speakers/extract"
	apiSynthesize     = "/v1/speech/synthesize"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
	formFieldAudio    = "audio"
)

// Default values.
const (
	defaultLanguage     = "en"
	defaultFileNameHint = "speech"
	outputFilePattern   = "%s-*.wav"
	outputFilePerms     = 0o600
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "model service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "model service returned non-OK status: %s, body: %s"
	errFmtUnexpectedType       = "unexpected content type: expected %s, got %s"
)

var (
	// ErrTextEmpty is returned when synthesis is requested for blank text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrNoAudioFiles is returned when extraction is requested without audio.
	ErrNoAudioFiles = errors.New("at least one reference audio file is required")
	// ErrInvalidAudioFile is returned for a missing or non-audio reference file.
	ErrInvalidAudioFile = errors.New("invalid reference audio file")
	// ErrUnsupportedLanguage is returned for a language the model cannot speak.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrEmptyAudio is returned when the service answers with no audio bytes.
	ErrEmptyAudio = errors.New("received empty audio data")
	// ErrModelUnavailable is returned when the service cannot be reached.
	ErrModelUnavailable = errors.New("model service unavailable")
)

// supportedLanguages are the languages the XTTS model is used with.
var supportedLanguages = []string{
	"en", "es", "fr", "de", "it", "pt", "pl", "tr", "ru", "nl", "cs", "ar", "zh-cn", "hu", "ko",
}

// SupportedLanguages returns the language codes accepted by Synthesize.
func SupportedLanguages() []string {
	return slices.Clone(supportedLanguages)
}

// HTTPClient talks to the inference server.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	outputDir  string
	normalizer *Normalizer
}

var _ core.ModelGateway = (*HTTPClient)(nil)

// extractResponse is the JSON body returned by the extract endpoint.
type extractResponse struct {
	GPTCondLatent    embedding.Tensor `json:"gpt_cond_latent"`
	SpeakerEmbedding embedding.Tensor `json:"speaker_embedding"`
}

// synthesizeRequest is the JSON payload of the synthesize endpoint.
type synthesizeRequest struct {
	Text             string           `json:"text"`
	Language         string           `json:"language"`
	GPTCondLatent    embedding.Tensor `json:"gpt_cond_latent"`
	SpeakerEmbedding embedding.Tensor `json:"speaker_embedding"`
}

// errorResponse represents a structured error response from the service.
type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPClient creates a client for the server at baseURL. Synthesized audio
// is written to outputDir, or to the system temp directory when it is empty.
func NewHTTPClient(baseURL string, timeout time.Duration, outputDir string) *HTTPClient {
	if outputDir == "" {
		outputDir = os.TempDir()
	}

	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		outputDir:  outputDir,
		normalizer: NewNormalizer(),
	}
}

// ExtractEmbedding uploads the reference audio and returns the conditioning
// latent and speaker embedding computed by the model.
func (c *HTTPClient) ExtractEmbedding(ctx context.Context, audioPaths []string) (embedding.Tensor, embedding.Tensor, error) {
	if len(audioPaths) == 0 {
		return embedding.Tensor{}, embedding.Tensor{}, ErrNoAudioFiles
	}

	for _, path := range audioPaths {
		if !fsutil.IsValidFile(path) || !fsutil.IsValidAudioFile(path) {
			return embedding.Tensor{}, embedding.Tensor{}, fmt.Errorf("%w: %s", ErrInvalidAudioFile, path)
		}
	}

	body, contentType, err := buildAudioForm(audioPaths)
	if err != nil {
		return embedding.Tensor{}, embedding.Tensor{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiExtractSpeaker, body)
	if err != nil {
		return embedding.Tensor{}, embedding.Tensor{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentType)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return embedding.Tensor{}, embedding.Tensor{}, fmt.Errorf("%w at %s: %w", ErrModelUnavailable, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return embedding.Tensor{}, embedding.Tensor{}, parseErrorResponse(resp)
	}

	var extracted extractResponse

	err = json.NewDecoder(resp.Body).Decode(&extracted)
	if err != nil {
		return embedding.Tensor{}, embedding.Tensor{}, fmt.Errorf("failed to decode extraction response: %w", err)
	}

	err = extracted.GPTCondLatent.Validate()
	if err != nil {
		return embedding.Tensor{}, embedding.Tensor{}, fmt.Errorf("invalid gpt_cond_latent from model: %w", err)
	}

	err = extracted.SpeakerEmbedding.Validate()
	if err != nil {
		return embedding.Tensor{}, embedding.Tensor{}, fmt.Errorf("invalid speaker_embedding from model: %w", err)
	}

	return extracted.GPTCondLatent, extracted.SpeakerEmbedding, nil
}

// Synthesize renders req.Text with the given voice, writes the WAV response to
// the output directory and returns its path.
func (c *HTTPClient) Synthesize(ctx context.Context, req core.SynthesisRequest) (string, error) {
	text := c.normalizer.Normalize(req.Text)
	if text == "" {
		return "", ErrTextEmpty
	}

	language := req.Language
	if language == "" {
		language = defaultLanguage
	}

	if !slices.Contains(supportedLanguages, language) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	err := req.Latent.Validate()
	if err != nil {
		return "", fmt.Errorf("invalid latent: %w", err)
	}

	err = req.Embedding.Validate()
	if err != nil {
		return "", fmt.Errorf("invalid embedding: %w", err)
	}

	requestBody, err := json.Marshal(synthesizeRequest{
		Text:             text,
		Language:         language,
		GPTCondLatent:    req.Latent,
		SpeakerEmbedding: req.Embedding,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiSynthesize, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w at %s: %w", ErrModelUnavailable, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return "", fmt.Errorf(errFmtUnexpectedType, contentTypeWAV, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return "", ErrEmptyAudio
	}

	return c.writeAudio(req.FileNameHint, audioData)
}

// HealthCheck verifies that the inference server is up.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: health check failed for %s: %w", ErrModelUnavailable, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %s", ErrModelUnavailable, resp.Status)
	}

	return nil
}

func (c *HTTPClient) writeAudio(hint string, audioData []byte) (string, error) {
	name := fsutil.SanitizeFilename(strings.TrimSpace(hint))
	if name == "" {
		name = defaultFileNameHint
	}

	err := fsutil.EnsureDir(c.outputDir)
	if err != nil {
		return "", err
	}

	file, err := os.CreateTemp(c.outputDir, fmt.Sprintf(outputFilePattern, name))
	if err != nil {
		return "", fmt.Errorf("failed to create audio file: %w", err)
	}

	_, writeErr := file.Write(audioData)
	closeErr := file.Close()

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(file.Name())

		return "", fmt.Errorf("failed to write audio file: %w", errors.Join(writeErr, closeErr))
	}

	err = os.Chmod(file.Name(), outputFilePerms)
	if err != nil {
		return "", fmt.Errorf("failed to set audio file permissions: %w", err)
	}

	return file.Name(), nil
}

func buildAudioForm(audioPaths []string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, path := range audioPaths {
		part, err := writer.CreateFormFile(formFieldAudio, filepath.Base(path))
		if err != nil {
			return nil, "", fmt.Errorf("failed to create form part for %s: %w", path, err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read reference audio %s: %w", path, err)
		}

		_, err = part.Write(data)
		if err != nil {
			return nil, "", fmt.Errorf("failed to write form part for %s: %w", path, err)
		}
	}

	err := writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf("failed to finalize form: %w", err)
	}

	return body, writer.FormDataContentType(), nil
}

// parseErrorResponse decodes a structured JSON error from the service, falling
// back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp errorResponse

	err := json.Unmarshal(body, &errResp)
	if err == nil && errResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errResp.Detail, errResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}
