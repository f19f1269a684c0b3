package generation

import (
	"testing"

	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindForURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want Kind
	}{
		{"https://api.example.com/v1/chat/completions", KindChat},
		{"https://proxy.example.com/openai/v1/chat/completions?x=1", KindChat},
		{"https://generativelanguage.googleapis.com/v1beta", KindGemini},
		{"gemini://gemini-2.5-flash-image", KindGemini},
		{"https://draw.example.com/v1/draw/completions", KindStreaming},
		{"https://draw.example.com/generate", KindStreaming},
		{"://bad url", KindStreaming},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, KindForURL(tt.url))
		})
	}
}

func TestFactory_For(t *testing.T) {
	t.Parallel()

	f := NewFactory(FactoryConfig{})

	b, err := f.For(&domain.ModelConfig{ID: "m1", BackendURL: "https://x/v1/chat/completions"})
	require.NoError(t, err)
	assert.Equal(t, KindChat, b.Kind())

	b, err = f.For(&domain.ModelConfig{ID: "m2", BackendURL: "https://x/draw"})
	require.NoError(t, err)
	assert.Equal(t, KindStreaming, b.Kind())

	_, err = f.For(&domain.ModelConfig{ID: "m3", BackendURL: "gemini://model"})
	assert.ErrorIs(t, err, ErrInvalidConfig, "gemini is only available once registered")

	_, err = f.For(&domain.ModelConfig{ID: "m4"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFactory_Register(t *testing.T) {
	t.Parallel()

	f := NewFactory(FactoryConfig{})
	stub := NewStreamingBackend("https://unused", "", nil)
	f.Register(KindGemini, func(*domain.ModelConfig) (Backend, error) { return stub, nil })

	b, err := f.For(&domain.ModelConfig{ID: "g", BackendURL: "gemini://model"})
	require.NoError(t, err)
	assert.Same(t, stub, b)
}
