package segmenter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/askdoc/askdoc/internal/models"
)

// attributionTokens is how many leading tokens of a chunk are matched against
// each page's token set when no explicit page marker is present.
const attributionTokens = 20

var pageMarker = regexp.MustCompile(`--- Page (\d+) ---`)

type SegmenterConfig struct {
	WindowSize int
	Overlap    int
}

// Segmenter splits cleaned text into overlapping fixed-size word windows and
// attaches a best-guess source page to each window.
type Segmenter struct {
	config SegmenterConfig
}

func NewWithConfig(config SegmenterConfig) (*Segmenter, error) {
	if config.WindowSize == 0 {
		config.WindowSize = 500
	}
	if config.Overlap == 0 {
		config.Overlap = 50
	}
	if config.WindowSize < 1 {
		return nil, fmt.Errorf("window size must be positive, got %d", config.WindowSize)
	}
	if config.Overlap < 0 {
		return nil, fmt.Errorf("overlap cannot be negative, got %d", config.Overlap)
	}
	// With overlap >= window size the stride is <= 0 and windowing would
	// never advance, so refuse the configuration outright.
	if config.Overlap >= config.WindowSize {
		return nil, fmt.Errorf("overlap %d must be smaller than window size %d", config.Overlap, config.WindowSize)
	}

	return &Segmenter{config: config}, nil
}

// Segment splits text into word windows of up to WindowSize tokens starting
// at stride WindowSize-Overlap. The final window, possibly shorter, is
// emitted exactly once. Text shorter than one window yields a single chunk.
func (s *Segmenter) Segment(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	stride := s.config.WindowSize - s.config.Overlap
	var windows []string
	for start := 0; ; start += stride {
		end := start + s.config.WindowSize
		if end > len(words) {
			end = len(words)
		}
		windows = append(windows, strings.Join(words[start:end], " "))
		if start+s.config.WindowSize >= len(words) {
			break
		}
	}
	return windows
}

// ChunkDocument segments text and wraps each window into a Chunk carrying its
// id, source metadata and attributed page. pages may be nil for formats
// without pagination, in which case every chunk lands on page 1.
func (s *Segmenter) ChunkDocument(text string, pages []models.PageText, source string) []models.Chunk {
	windows := s.Segment(text)
	chunks := make([]models.Chunk, 0, len(windows))
	for i, window := range windows {
		chunks = append(chunks, models.Chunk{
			Text:    window,
			ChunkID: fmt.Sprintf("chunk_%d", i),
			Page:    attachPage(window, pages),
			Metadata: map[string]interface{}{
				"source":      source,
				"chunk_index": i,
			},
		})
	}
	return chunks
}

// attachPage picks the source page for a chunk. An explicit page-boundary
// marker inside the chunk wins. Otherwise the chunk's first tokens are
// matched against each page's token set; the largest intersection wins and
// ties go to the lowest page number. Without any page data the answer is 1.
func attachPage(chunkText string, pages []models.PageText) int {
	if m := pageMarker.FindStringSubmatch(chunkText); m != nil {
		if page, err := strconv.Atoi(m[1]); err == nil {
			return page
		}
	}

	tokens := strings.Fields(strings.ToLower(chunkText))
	if len(tokens) > attributionTokens {
		tokens = tokens[:attributionTokens]
	}
	chunkWords := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		chunkWords[tok] = struct{}{}
	}

	bestPage := 1
	bestScore := 0
	for _, page := range pages {
		pageWords := make(map[string]struct{})
		for _, tok := range strings.Fields(strings.ToLower(page.Text)) {
			pageWords[tok] = struct{}{}
		}

		overlap := 0
		for tok := range chunkWords {
			if _, ok := pageWords[tok]; ok {
				overlap++
			}
		}

		if overlap > bestScore || (overlap == bestScore && overlap > 0 && page.Page < bestPage) {
			bestScore = overlap
			bestPage = page.Page
		}
	}
	return bestPage
}
