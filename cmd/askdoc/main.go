package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/askdoc/askdoc/internal/models"
	"github.com/askdoc/askdoc/internal/types"
	cfgPkg "github.com/askdoc/askdoc/pkg/config"
	"github.com/askdoc/askdoc/pkg/index"
	"github.com/askdoc/askdoc/pkg/llm"
	"github.com/askdoc/askdoc/pkg/retriever"
	"github.com/askdoc/askdoc/pkg/segmenter"
)

type cliFlags struct {
	configPath string
	docID      string
	snapshot   string
	topK       int
}

func main() {
	godotenv.Load()

	flags, config := parseFlags()
	if errs := config.Validate(); len(errs) > 0 {
		for _, err := range errs {
			color.Red("config error: %v", err)
		}
		os.Exit(1)
	}

	if err := run(flags, config); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() (cliFlags, *cfgPkg.Config) {
	var flags cliFlags
	var ollamaURL, model, embedModel, dbURL, backend string
	var windowSize, overlap int

	flag.StringVar(&flags.configPath, "config", "", "Path to config file")
	flag.StringVar(&flags.docID, "doc", "", "Scope queries to one document id")
	flag.StringVar(&flags.snapshot, "snapshot", "", "Snapshot path to load on start and save after ingestion")
	flag.IntVar(&flags.topK, "k", 0, "Number of chunks to retrieve per query")
	flag.StringVar(&ollamaURL, "ollama-url", os.Getenv("OLLAMA_BASE_URL"), "Ollama server URL")
	flag.StringVar(&model, "model", "", "LLM model to use for answers")
	flag.StringVar(&embedModel, "embed-model", "", "Embedding model to use")
	flag.StringVar(&dbURL, "db-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	flag.StringVar(&backend, "backend", "", "Index backend: memory or pgvector")
	flag.IntVar(&windowSize, "window-size", 0, "Chunk window size in words")
	flag.IntVar(&overlap, "overlap", 0, "Chunk overlap in words")
	flag.Parse()

	config, err := cfgPkg.LoadConfig(flags.configPath)
	if err != nil {
		log.Fatal(err)
	}

	// Command line flags override the config file.
	if ollamaURL != "" {
		config.LLM.BaseURL = ollamaURL
	}
	if model != "" {
		config.LLM.Model = model
	}
	if embedModel != "" {
		config.LLM.EmbedModel = embedModel
	}
	if dbURL != "" {
		config.Database.URL = dbURL
	}
	if backend != "" {
		config.Index.Backend = backend
	}
	if windowSize != 0 {
		config.Segmenter.WindowSize = windowSize
	}
	if overlap != 0 {
		config.Segmenter.Overlap = overlap
	}
	if flags.topK != 0 {
		config.Index.TopK = flags.topK
	}
	if flags.snapshot == "" {
		flags.snapshot = config.Index.SnapshotPath
	}

	return flags, config
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(flags cliFlags, config *cfgPkg.Config) error {
	ctx := context.Background()

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     config.LLM.EmbedModel,
		BaseURL:   config.LLM.BaseURL,
		RateLimit: config.LLM.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	seg, err := segmenter.NewWithConfig(segmenter.SegmenterConfig{
		WindowSize: config.Segmenter.WindowSize,
		Overlap:    config.Segmenter.Overlap,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize segmenter: %v", err)
	}

	vectorIndex, cleanup, err := buildIndex(ctx, config, embedder)
	if err != nil {
		return err
	}
	defer cleanup()

	chatEngine, err := llm.NewChatWithConfig(llm.ChatConfig{
		Model:       config.LLM.Model,
		MaxTokens:   config.LLM.MaxTokens,
		BaseURL:     config.LLM.BaseURL,
		Temperature: config.LLM.Temperature,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %v", err)
	}

	r := retriever.NewWithConfig(retriever.RetrieverConfig{TopK: config.Index.TopK},
		embedder, seg, vectorIndex)

	if flags.snapshot != "" {
		if _, err := os.Stat(flags.snapshot + ".json"); err == nil {
			if err := r.Load(flags.snapshot); err != nil {
				return fmt.Errorf("failed to load snapshot: %v", err)
			}
			color.Green("Loaded snapshot %s", flags.snapshot)
		}
	}

	// Ingest every file named on the command line.
	files := flag.Args()
	docID := flags.docID
	if len(files) > 0 {
		bar := getProgressBar(len(files), "Ingesting documents...")
		for _, path := range files {
			info, err := r.IngestFile(ctx, path)
			if err != nil {
				return fmt.Errorf("failed to ingest %s: %v", path, err)
			}
			bar.Add(1)
			color.Green("\n %s -> %s (%d chunks, %d pages)", info.Filename, info.ID, info.Chunks, info.Pages)
			if len(files) == 1 && docID == "" {
				docID = info.ID
			}
		}

		if flags.snapshot != "" {
			if err := r.Save(flags.snapshot); err != nil {
				return fmt.Errorf("failed to save snapshot: %v", err)
			}
			color.Green("Saved snapshot %s", flags.snapshot)
		}
	}

	// Interactive Q&A loop.
	if docID != "" {
		color.Cyan("\nAsk questions about document %s (type 'exit' to quit)", docID)
	} else {
		color.Cyan("\nAsk questions across all documents (type 'exit' to quit)")
	}

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.ToLower(query) == "exit" {
			break
		}

		querySpinner := getSpinner("Searching documents...")
		chunks, err := searchChunks(ctx, r, docID, query, config.Index.TopK)
		querySpinner.Finish()
		fmt.Print("\r")

		if err != nil {
			color.Red("Error querying documents: %v", err)
			continue
		}

		if config.Server.Streaming {
			stream, err := chatEngine.AnswerStream(ctx, query, chunks)
			if err != nil {
				color.Red("Error: %v", err)
				continue
			}
			assistantPrompt("Assistant: ")
			for chunk := range stream {
				fmt.Print(chunk)
			}
			fmt.Println()
		} else {
			responseSpinner := getSpinner("Generating response...")
			answer, err := chatEngine.Answer(ctx, query, chunks)
			responseSpinner.Finish()
			fmt.Print("\r")

			if err != nil {
				color.Red("Error: %v", err)
				continue
			}
			assistantPrompt("Assistant: %s\n", answer)
		}
	}

	return nil
}

func buildIndex(ctx context.Context, config *cfgPkg.Config, embedder *llm.Embedder) (types.VectorIndex, func(), error) {
	if config.Index.Backend == "pgvector" {
		pg, err := index.NewPgWithConfig(ctx, index.PgIndexConfig{
			ConnString: config.Database.URL,
			TableName:  config.Database.TableName,
			VectorDim:  config.Database.VectorDim,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize pgvector index: %v", err)
		}
		return pg, pg.Close, nil
	}

	ix := index.NewWithConfig(index.IndexConfig{Oversample: config.Index.Oversample}, embedder)
	return ix, func() {}, nil
}

func searchChunks(ctx context.Context, r *retriever.Retriever, docID, query string, k int) ([]models.ScoredChunk, error) {
	if docID != "" {
		return r.Search(ctx, docID, query, k)
	}
	hits, err := r.SearchAll(ctx, query, k)
	if err != nil {
		return nil, err
	}
	chunks := make([]models.ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		chunks = append(chunks, models.ScoredChunk{Chunk: hit.Chunk, Score: hit.Score})
	}
	return chunks, nil
}
