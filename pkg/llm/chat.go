package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/askdoc/askdoc/internal/models"
)

// NoAnswerFallback is returned when retrieval found nothing to ground an
// answer in.
const NoAnswerFallback = "I couldn't find relevant information in the document to answer your question."

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	SystemTemplate  string
	ContextTemplate string
	BaseURL         string // Ollama server URL
}

// ChatEngine turns a question plus retrieved chunks into an answer.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewChatWithConfig creates a new ChatEngine with the given configuration.
func NewChatWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.Temperature <= 0 || config.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a helpful assistant. Use ONLY the provided document content to answer. If the answer is not in the document, say you don't know."
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = "Document:\n%s\n\nQuestion: %s"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	llm, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

// Answer generates an answer grounded in the retrieved chunks.
func (ce *ChatEngine) Answer(ctx context.Context, question string, chunks []models.ScoredChunk) (string, error) {
	if len(chunks) == 0 {
		return NoAnswerFallback, nil
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman,
			fmt.Sprintf(ce.config.ContextTemplate, buildContext(chunks), question)),
	}

	response, err := ce.llm.GenerateContent(ctx, content)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}
	return response.Choices[0].Content, nil
}

// AnswerStream generates a stream of answer fragments for the question.
func (ce *ChatEngine) AnswerStream(ctx context.Context, question string, chunks []models.ScoredChunk) (<-chan string, error) {
	resultChan := make(chan string)

	go func() {
		defer close(resultChan)

		if len(chunks) == 0 {
			resultChan <- NoAnswerFallback
			return
		}

		content := []llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
			llms.TextParts(llms.ChatMessageTypeHuman,
				fmt.Sprintf(ce.config.ContextTemplate, buildContext(chunks), question)),
		}

		response, err := ce.llm.GenerateContent(ctx, content,
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				resultChan <- string(chunk)
				return nil
			}))
		if err != nil {
			resultChan <- fmt.Sprintf("Error: %v", err)
			return
		}
		if response == nil {
			resultChan <- "Error: No response from LLM"
		}
	}()

	return resultChan, nil
}

// buildContext assembles the retrieved chunks into the prompt context, best
// match first, each tagged with its source page.
func buildContext(chunks []models.ScoredChunk) string {
	var b strings.Builder
	for _, sc := range chunks {
		if sc.Chunk.Page > 0 {
			fmt.Fprintf(&b, "[page %d] ", sc.Chunk.Page)
		}
		b.WriteString(sc.Chunk.Text)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
