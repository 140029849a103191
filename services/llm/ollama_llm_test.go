package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOllama(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("OLLAMA_BASE_URL", srv.URL)
	t.Setenv("OLLAMA_MODEL", "test-model")
	client, err := NewOllamaClient()
	require.NoError(t, err)
	return client
}

func TestOllamaGenerate(t *testing.T) {
	var captured ollamaGenerateRequest
	client := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:    "test-model",
			Response: "Ledakan Pasar Pondok Aren",
			Done:     true,
		})
	})

	name, err := client.Generate(context.Background(), "name this case", GenerationParams{})

	require.NoError(t, err)
	assert.Equal(t, "Ledakan Pasar Pondok Aren", name)
	assert.Equal(t, "test-model", captured.Model)
	assert.Equal(t, "name this case", captured.Prompt)
	assert.False(t, captured.Stream)
	assert.InDelta(t, namingTemperature, captured.Options["temperature"], 1e-6)
	assert.EqualValues(t, namingMaxTokens, captured.Options["num_predict"])
}

func TestOllamaGenerate_ParamsOverrideDefaults(t *testing.T) {
	var captured ollamaGenerateRequest
	client := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "x", Done: true})
	})

	temp := float32(0.7)
	maxTokens := 16
	_, err := client.Generate(context.Background(), "p", GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        []string{"\n"},
	})

	require.NoError(t, err)
	assert.InDelta(t, 0.7, captured.Options["temperature"], 1e-6)
	assert.EqualValues(t, 16, captured.Options["num_predict"])
	assert.Equal(t, []interface{}{"\n"}, captured.Options["stop"])
}

func TestOllamaGenerate_ModelNotFound(t *testing.T) {
	client := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'test-model' not found"}`))
	})

	_, err := client.Generate(context.Background(), "p", GenerationParams{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull test-model")
}

func TestOllamaGenerate_ServerError(t *testing.T) {
	client := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	_, err := client.Generate(context.Background(), "p", GenerationParams{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
