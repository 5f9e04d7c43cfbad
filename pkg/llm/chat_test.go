package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdoc/askdoc/internal/models"
)

func TestNewChatWithConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  ChatConfig
		wantErr bool
	}{
		{name: "valid", config: ChatConfig{Temperature: 0.7}},
		{name: "zero temperature", config: ChatConfig{Temperature: 0}, wantErr: true},
		{name: "temperature above one", config: ChatConfig{Temperature: 1.5}, wantErr: true},
		{name: "negative max tokens", config: ChatConfig{Temperature: 0.7, MaxTokens: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce, err := NewChatWithConfig(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, ce)
			assert.Equal(t, "mistral", ce.config.Model)
			assert.Equal(t, 2000, ce.config.MaxTokens)
		})
	}
}

func TestAnswer_NoChunks(t *testing.T) {
	ce, err := NewChatWithConfig(ChatConfig{Temperature: 0.7})
	require.NoError(t, err)

	answer, err := ce.Answer(context.Background(), "what is this about?", nil)
	require.NoError(t, err)
	assert.Equal(t, NoAnswerFallback, answer)
}

func TestAnswerStream_NoChunks(t *testing.T) {
	ce, err := NewChatWithConfig(ChatConfig{Temperature: 0.7})
	require.NoError(t, err)

	stream, err := ce.AnswerStream(context.Background(), "what is this about?", nil)
	require.NoError(t, err)

	var parts []string
	for chunk := range stream {
		parts = append(parts, chunk)
	}
	require.Len(t, parts, 1)
	assert.Equal(t, NoAnswerFallback, parts[0])
}

func TestBuildContext(t *testing.T) {
	chunks := []models.ScoredChunk{
		{Chunk: models.Chunk{Text: "second chunk", Page: 2}},
		{Chunk: models.Chunk{Text: "first chunk"}},
	}

	got := buildContext(chunks)
	assert.Equal(t, "[page 2] second chunk\n\nfirst chunk", got)
}

func TestEmbedder_EmptyInput(t *testing.T) {
	emb, err := NewEmbedderWithConfig(EmbedderConfig{})
	require.NoError(t, err)

	vectors, err := emb.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}
