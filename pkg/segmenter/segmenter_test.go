package segmenter_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdoc/askdoc/internal/models"
	"github.com/askdoc/askdoc/pkg/segmenter"
)

func makeWords(n int) []string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return words
}

func TestNewWithConfig_RejectsOverlapNotSmallerThanWindow(t *testing.T) {
	tests := []struct {
		name       string
		windowSize int
		overlap    int
	}{
		{name: "overlap equals window", windowSize: 100, overlap: 100},
		{name: "overlap exceeds window", windowSize: 100, overlap: 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := segmenter.NewWithConfig(segmenter.SegmenterConfig{
				WindowSize: tt.windowSize,
				Overlap:    tt.overlap,
			})
			assert.Error(t, err)
		})
	}
}

func TestSegment_TextShorterThanWindowYieldsOneChunk(t *testing.T) {
	s, err := segmenter.NewWithConfig(segmenter.SegmenterConfig{WindowSize: 500, Overlap: 50})
	require.NoError(t, err)

	words := makeWords(500)
	chunks := s.Segment(strings.Join(words, " "))

	require.Len(t, chunks, 1)
	assert.Equal(t, strings.Join(words, " "), chunks[0])
}

func TestSegment_StrideAndFinalWindow(t *testing.T) {
	s, err := segmenter.NewWithConfig(segmenter.SegmenterConfig{WindowSize: 500, Overlap: 50})
	require.NoError(t, err)

	words := makeWords(1000)
	chunks := s.Segment(strings.Join(words, " "))

	// Windows start at 0, 450, 900; the tail is emitted exactly once.
	require.Len(t, chunks, 3)

	first := strings.Fields(chunks[0])
	second := strings.Fields(chunks[1])
	third := strings.Fields(chunks[2])

	assert.Len(t, first, 500)
	assert.Equal(t, "w0", first[0])
	assert.Equal(t, "w499", first[len(first)-1])

	assert.Len(t, second, 500)
	assert.Equal(t, "w450", second[0])
	assert.Equal(t, "w949", second[len(second)-1])

	assert.Len(t, third, 100)
	assert.Equal(t, "w900", third[0])
	assert.Equal(t, "w999", third[len(third)-1])

	// No token lost.
	seen := make(map[string]bool)
	for _, chunk := range chunks {
		for _, word := range strings.Fields(chunk) {
			seen[word] = true
		}
	}
	assert.Len(t, seen, 1000)
}

func TestSegment_EmptyText(t *testing.T) {
	s, err := segmenter.NewWithConfig(segmenter.SegmenterConfig{WindowSize: 10, Overlap: 2})
	require.NoError(t, err)

	assert.Empty(t, s.Segment("   \n  "))
}

func TestChunkDocument_PageMarkerWins(t *testing.T) {
	s, err := segmenter.NewWithConfig(segmenter.SegmenterConfig{WindowSize: 50, Overlap: 5})
	require.NoError(t, err)

	// The text overlaps heavily with page 1's token set, but the explicit
	// marker places the chunk on page 3.
	text := "--- Page 3 --- alpha beta gamma delta"
	pages := []models.PageText{
		{Page: 1, Text: "alpha beta gamma delta epsilon"},
	}

	chunks := s.ChunkDocument(text, pages, "pdf")
	require.Len(t, chunks, 1)
	assert.Equal(t, 3, chunks[0].Page)
}

func TestChunkDocument_AttributionPicksLargestIntersection(t *testing.T) {
	s, err := segmenter.NewWithConfig(segmenter.SegmenterConfig{WindowSize: 50, Overlap: 5})
	require.NoError(t, err)

	pages := []models.PageText{
		{Page: 1, Text: "completely unrelated words here"},
		{Page: 2, Text: "alpha beta gamma something else"},
	}

	chunks := s.ChunkDocument("alpha beta gamma delta", pages, "pdf")
	require.Len(t, chunks, 1)
	assert.Equal(t, 2, chunks[0].Page)
}

func TestChunkDocument_AttributionTieGoesToLowestPage(t *testing.T) {
	s, err := segmenter.NewWithConfig(segmenter.SegmenterConfig{WindowSize: 50, Overlap: 5})
	require.NoError(t, err)

	// Both page orders must resolve the tie the same way.
	tests := []struct {
		name  string
		pages []models.PageText
	}{
		{
			name: "ascending",
			pages: []models.PageText{
				{Page: 2, Text: "alpha beta gamma"},
				{Page: 4, Text: "alpha beta gamma"},
			},
		},
		{
			name: "descending",
			pages: []models.PageText{
				{Page: 4, Text: "alpha beta gamma"},
				{Page: 2, Text: "alpha beta gamma"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := s.ChunkDocument("alpha beta gamma", tt.pages, "pdf")
			require.Len(t, chunks, 1)
			assert.Equal(t, 2, chunks[0].Page)
		})
	}
}

func TestChunkDocument_NoPageDataDefaultsToPageOne(t *testing.T) {
	s, err := segmenter.NewWithConfig(segmenter.SegmenterConfig{WindowSize: 50, Overlap: 5})
	require.NoError(t, err)

	chunks := s.ChunkDocument("some plain text without pages", nil, "txt")
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, "chunk_0", chunks[0].ChunkID)
	assert.Equal(t, "txt", chunks[0].Metadata["source"])
}
