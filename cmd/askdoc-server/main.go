package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/askdoc/askdoc/internal/types"
	cfgPkg "github.com/askdoc/askdoc/pkg/config"
	"github.com/askdoc/askdoc/pkg/index"
	"github.com/askdoc/askdoc/pkg/llm"
	"github.com/askdoc/askdoc/pkg/retriever"
	"github.com/askdoc/askdoc/pkg/segmenter"
	"github.com/askdoc/askdoc/server"
)

func main() {
	godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.Parse()

	config, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if errs := config.Validate(); len(errs) > 0 {
		for _, err := range errs {
			log.Printf("config error: %v", err)
		}
		os.Exit(1)
	}

	if err := run(config); err != nil {
		log.Fatal(err)
	}
}

func run(config *cfgPkg.Config) error {
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

	var vectorIndex types.VectorIndex
	if config.Index.Backend == "pgvector" {
		pg, err := index.NewPgWithConfig(ctx, index.PgIndexConfig{
			ConnString: config.Database.URL,
			TableName:  config.Database.TableName,
			VectorDim:  config.Database.VectorDim,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize pgvector index: %v", err)
		}
		defer pg.Close()
		vectorIndex = pg
	} else {
		vectorIndex = index.NewWithConfig(index.IndexConfig{Oversample: config.Index.Oversample}, embedder)
	}

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

	if path := config.Index.SnapshotPath; path != "" {
		if _, err := os.Stat(path + ".json"); err == nil {
			if err := r.Load(path); err != nil {
				return fmt.Errorf("failed to load snapshot: %v", err)
			}
			log.Printf("Loaded snapshot %s", path)
		}
	}

	srv := server.New(server.Config{
		Port:      config.Server.Port,
		Streaming: config.Server.Streaming,
		TopK:      config.Index.TopK,
	}, r, chatEngine)

	if err := srv.RestoreDocuments(ctx); err != nil {
		return fmt.Errorf("failed to restore document listing: %v", err)
	}

	return srv.Run()
}
