package gateway_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/speaker-forge/internal/core"
	"github.com/book-expert/speaker-forge/internal/embedding"
	"github.com/book-expert/speaker-forge/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTimeout  = 5 * time.Second
	testWAVBytes = "RIFF....WAVEfmt "
)

func testVoice() (embedding.Tensor, embedding.Tensor) {
	return embedding.Filled(0.5, 1, 2, 3), embedding.Vector(1, 2, 3, 4)
}

func writeAudioFixture(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(testWAVBytes), 0o600))

	return path
}

func TestHTTPClient_ExtractEmbedding(t *testing.T) {
	t.Parallel()

	latent, emb := testVoice()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/speakers/extract", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		err := r.ParseMultipartForm(1 << 20)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		assert.Len(t, r.MultipartForm.File["audio"], 2)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]embedding.Tensor{
			"gpt_cond_latent":   latent,
			"speaker_embedding": emb,
		})
	}))
	defer server.Close()

	client := gateway.NewHTTPClient(server.URL, testTimeout, t.TempDir())

	gotLatent, gotEmb, err := client.ExtractEmbedding(context.Background(), []string{
		writeAudioFixture(t, "one.wav"),
		writeAudioFixture(t, "two.flac"),
	})
	require.NoError(t, err)
	assert.True(t, gotLatent.Equal(latent))
	assert.True(t, gotEmb.Equal(emb))
}

func TestHTTPClient_ExtractEmbeddingRejectsBadInput(t *testing.T) {
	t.Parallel()

	client := gateway.NewHTTPClient("http://127.0.0.1:1", testTimeout, t.TempDir())

	_, _, err := client.ExtractEmbedding(context.Background(), nil)
	require.ErrorIs(t, err, gateway.ErrNoAudioFiles)

	_, _, err = client.ExtractEmbedding(context.Background(), []string{writeAudioFixture(t, "notes.txt")})
	require.ErrorIs(t, err, gateway.ErrInvalidAudioFile)

	_, _, err = client.ExtractEmbedding(context.Background(), []string{filepath.Join(t.TempDir(), "missing.wav")})
	require.ErrorIs(t, err, gateway.ErrInvalidAudioFile)
}

func TestHTTPClient_ExtractEmbeddingInvalidTensor(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"gpt_cond_latent":{"shape":[3],"data":[1]},"speaker_embedding":{"shape":[1],"data":[1]}}`)
	}))
	defer server.Close()

	client := gateway.NewHTTPClient(server.URL, testTimeout, t.TempDir())

	_, _, err := client.ExtractEmbedding(context.Background(), []string{writeAudioFixture(t, "a.wav")})
	require.ErrorIs(t, err, embedding.ErrShapeMismatch)
}

func TestHTTPClient_Synthesize(t *testing.T) {
	t.Parallel()

	latent, emb := testVoice()
	outputDir := t.TempDir()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/speech/synthesize", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]json.RawMessage

		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		assert.JSONEq(t, `"Hello - \"world\""`, string(body["text"]))
		assert.JSONEq(t, `"fr"`, string(body["language"]))
		assert.Contains(t, body, "gpt_cond_latent")
		assert.Contains(t, body, "speaker_embedding")

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = io.WriteString(w, testWAVBytes)
	}))
	defer server.Close()

	client := gateway.NewHTTPClient(server.URL, testTimeout, outputDir)

	path, err := client.Synthesize(context.Background(), core.SynthesisRequest{
		Language:     "fr",
		Text:         "  Hello —   “world”  ",
		Latent:       latent,
		Embedding:    emb,
		FileNameHint: "my voice/preview",
	})
	require.NoError(t, err)

	assert.Equal(t, outputDir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "my_voice_preview-"), path)
	assert.Equal(t, ".wav", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, testWAVBytes, string(data))
}

func TestHTTPClient_SynthesizeValidation(t *testing.T) {
	t.Parallel()

	latent, emb := testVoice()
	client := gateway.NewHTTPClient("http://127.0.0.1:1", testTimeout, t.TempDir())

	tests := []struct {
		name    string
		req     core.SynthesisRequest
		wantErr error
	}{
		{
			name:    "blank text",
			req:     core.SynthesisRequest{Text: "   ", Latent: latent, Embedding: emb},
			wantErr: gateway.ErrTextEmpty,
		},
		{
			name:    "unsupported language",
			req:     core.SynthesisRequest{Text: "hi", Language: "xx", Latent: latent, Embedding: emb},
			wantErr: gateway.ErrUnsupportedLanguage,
		},
		{
			name:    "missing voice",
			req:     core.SynthesisRequest{Text: "hi", Language: "en"},
			wantErr: embedding.ErrEmptyTensor,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := client.Synthesize(context.Background(), tc.req)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestHTTPClient_SynthesizeServiceError(t *testing.T) {
	t.Parallel()

	latent, emb := testVoice()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"detail":     "latent has wrong rank",
			"error_code": "INVALID_LATENT",
		})
	}))
	defer server.Close()

	client := gateway.NewHTTPClient(server.URL, testTimeout, t.TempDir())

	_, err := client.Synthesize(context.Background(), core.SynthesisRequest{Text: "hi", Latent: latent, Embedding: emb})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "latent has wrong rank")
	assert.Contains(t, err.Error(), "INVALID_LATENT")
}

func TestHTTPClient_SynthesizeWrongContentType(t *testing.T) {
	t.Parallel()

	latent, emb := testVoice()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "Not audio data")
	}))
	defer server.Close()

	client := gateway.NewHTTPClient(server.URL, testTimeout, t.TempDir())

	_, err := client.Synthesize(context.Background(), core.SynthesisRequest{Text: "hi", Latent: latent, Embedding: emb})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected content type")
}

func TestHTTPClient_SynthesizeEmptyAudio(t *testing.T) {
	t.Parallel()

	latent, emb := testVoice()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := gateway.NewHTTPClient(server.URL, testTimeout, t.TempDir())

	_, err := client.Synthesize(context.Background(), core.SynthesisRequest{Text: "hi", Latent: latent, Embedding: emb})
	require.ErrorIs(t, err, gateway.ErrEmptyAudio)
}

func TestHTTPClient_HealthCheck(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := gateway.NewHTTPClient(server.URL+"/", testTimeout, "")
	require.NoError(t, client.HealthCheck(context.Background()))
}

func TestHTTPClient_HealthCheckServiceDown(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := server.URL
	server.Close()

	client := gateway.NewHTTPClient(url, time.Second, "")

	err := client.HealthCheck(context.Background())
	require.ErrorIs(t, err, gateway.ErrModelUnavailable)
}

func TestSupportedLanguages(t *testing.T) {
	t.Parallel()

	languages := gateway.SupportedLanguages()
	assert.Contains(t, languages, "en")
	assert.Contains(t, languages, "zh-cn")

	languages[0] = "mutated"
	assert.Equal(t, "en", gateway.SupportedLanguages()[0])
}
