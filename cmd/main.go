package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/minirag/internal/models"
	"github.com/xhad/minirag/internal/types"
	cfgPkg "github.com/xhad/minirag/pkg/config"
	"github.com/xhad/minirag/pkg/chunker"
	"github.com/xhad/minirag/pkg/extract"
	"github.com/xhad/minirag/pkg/llm"
	"github.com/xhad/minirag/pkg/pipeline"
	"github.com/xhad/minirag/pkg/rerank"
	"github.com/xhad/minirag/pkg/retriever"
	"github.com/xhad/minirag/pkg/scraper"
	"github.com/xhad/minirag/pkg/store"
	"github.com/xhad/minirag/server"
)

type flags struct {
	configPath string
	serve      bool
	ingest     string
	ollamaURL  string
	dbURL      string
	model      string
}

func main() {
	f := parseFlags()

	config, err := loadConfig(f)
	if err != nil {
		log.Fatal(err)
	}

	if errs := config.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config error: %s", e.Error())
		}
		os.Exit(1)
	}

	if err := run(f, config); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to config file")
	flag.BoolVar(&f.serve, "serve", false, "Run the HTTP server instead of the chat")
	flag.StringVar(&f.ingest, "ingest", "", "Ingest a file or URL and exit")
	flag.StringVar(&f.ollamaURL, "ollama-url", "", "Ollama server URL")
	flag.StringVar(&f.dbURL, "db-url", "", "PostgreSQL connection string (empty uses the in-memory index)")
	flag.StringVar(&f.model, "model", "", "Generation model name")
	flag.Parse()
	return f
}

func loadConfig(f flags) (*cfgPkg.Config, error) {
	config, err := cfgPkg.LoadConfig(f.configPath)
	if err != nil {
		return nil, err
	}

	// Command line flags win over file and environment.
	if f.ollamaURL != "" {
		config.LLM.BaseURL = f.ollamaURL
		config.Embedding.BaseURL = f.ollamaURL
	}
	if f.dbURL != "" {
		config.Database.URL = f.dbURL
	}
	if f.model != "" {
		config.LLM.Model = f.model
		config.Rerank.Model = f.model
	}

	return config, nil
}

func buildPipeline(config *cfgPkg.Config) (*pipeline.Pipeline, types.VectorIndex, error) {
	tokenizer, err := chunker.NewTiktokenTokenizer(config.Chunker.Encoding)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}

	ch, err := chunker.NewWithTokenizer(chunker.Config{
		MaxTokens:     config.Chunker.MaxTokens,
		OverlapTokens: config.Chunker.OverlapTokens,
		Encoding:      config.Chunker.Encoding,
	}, tokenizer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}

	embedder, err := llm.NewEmbedder(llm.EmbedderConfig{
		Model:          config.Embedding.Model,
		BaseURL:        config.Embedding.BaseURL,
		MaxInputTokens: config.Embedding.MaxInputTokens,
	}, tokenizer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	var index types.VectorIndex
	if config.Database.URL == "" {
		index = store.NewMemoryStore(config.Embedding.Dimension)
	} else {
		index, err = store.NewWithConfig(store.VectorStoreConfig{
			ConnString: config.Database.URL,
			TableName:  config.Database.TableName,
			VectorDim:  config.Embedding.Dimension,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
	}

	scorer, err := rerank.NewLLMScorer(rerank.ScorerConfig{
		Model:   config.Rerank.Model,
		BaseURL: config.LLM.BaseURL,
	})
	if err != nil {
		index.Close()
		return nil, nil, fmt.Errorf("failed to initialize scorer: %w", err)
	}

	generator, err := llm.NewGenerator(llm.GeneratorConfig{
		Model:             config.LLM.Model,
		BaseURL:           config.LLM.BaseURL,
		MaxTokens:         config.LLM.MaxTokens,
		Temperature:       config.LLM.Temperature,
		RequestsPerMinute: config.LLM.RequestsPerMinute,
		DeclinePatterns:   config.Pipeline.DeclinePatterns,
	})
	if err != nil {
		index.Close()
		return nil, nil, fmt.Errorf("failed to initialize generator: %w", err)
	}

	p := pipeline.New(pipeline.Config{
		TopK:         config.Pipeline.TopK,
		TopN:         config.Pipeline.TopN,
		BatchSize:    config.Database.BatchSize,
		StageTimeout: time.Duration(config.Pipeline.StageTimeoutSeconds) * time.Second,
	}, ch, embedder, index, retriever.New(embedder, index), rerank.New(scorer), generator)

	return p, index, nil
}

func run(f flags, config *cfgPkg.Config) error {
	p, index, err := buildPipeline(config)
	if err != nil {
		return err
	}
	defer index.Close()

	switch {
	case f.serve:
		return server.New(server.Config{Port: config.Server.Port}, p).Run()
	case f.ingest != "":
		return runIngest(p, f.ingest)
	default:
		return runChat(p)
	}
}

func runIngest(p types.Pipeline, target string) error {
	ctx := context.Background()

	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return ingestURL(ctx, p, target)
	}

	text, err := extract.FromFile(target)
	if err != nil {
		return err
	}

	result, err := p.Ingest(ctx, text, map[string]interface{}{
		"title":    extract.Title(target),
		"filename": target,
	})
	if err != nil {
		return err
	}

	color.Green("✓ Ingested %s as document %s (%d chunks)\n", target, result.DocumentID, result.ChunkCount)
	return nil
}

func ingestURL(ctx context.Context, p types.Pipeline, url string) error {
	var scrapeCount int32
	s, err := scraper.NewWithConfig(scraper.ScraperConfig{
		BaseURL: url,
		OnProgress: func(url string) {
			atomic.AddInt32(&scrapeCount, 1)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scraper: %w", err)
	}

	scrapingBar := getSpinner(" Scraping documentation...")
	go func() {
		for {
			count := atomic.LoadInt32(&scrapeCount)
			scrapingBar.Describe(color.BlueString("Scraping documentation (%d pages)", count))
			time.Sleep(100 * time.Millisecond)
		}
	}()

	docs, err := s.Scrape(ctx, url)
	scrapingBar.Finish()
	if err != nil {
		return fmt.Errorf("failed to scrape %s: %w", url, err)
	}
	color.Green("✓ Scraped %d pages\n", len(docs))

	ingestBar := getProgressBar(len(docs), " Ingesting pages...")
	chunks := 0
	for _, doc := range docs {
		result, err := p.Ingest(ctx, doc.Text, doc.Metadata)
		if err != nil {
			color.Red("Failed to ingest %v: %v\n", doc.Metadata["url"], err)
			continue
		}
		chunks += result.ChunkCount
		ingestBar.Add(1)
	}
	ingestBar.Finish()
	color.Green("\n✓ Stored %d chunks from %d pages\n", chunks, len(docs))
	return nil
}

func runChat(p types.Pipeline) error {
	ctx := context.Background()

	color.Cyan("\nChat with your documents (type 'exit' to quit, 'docs' to list documents)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case strings.EqualFold(input, "exit"):
			return nil
		case strings.EqualFold(input, "docs"):
			printDocuments(ctx, p)
			continue
		case strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://"):
			if err := ingestURL(ctx, p, input); err != nil {
				color.Red("%v\n", err)
			}
			continue
		}

		spinner := getSpinner(" Thinking...")
		result, err := p.Query(ctx, input)
		spinner.Finish()
		fmt.Print("\r")

		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}

		assistantPrompt("\nAssistant: %s\n", result.Answer)
		for _, source := range result.Sources {
			color.Yellow("  [%d] %s", source.Index, sourceLabel(source))
		}
	}

	return nil
}

func printDocuments(ctx context.Context, p types.Pipeline) {
	docs, err := p.ListDocuments(ctx)
	if err != nil {
		color.Red("Error listing documents: %v\n", err)
		return
	}
	if len(docs) == 0 {
		color.Yellow("No documents stored yet.\n")
		return
	}
	for _, doc := range docs {
		title := doc.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("  %s  %s  (%d chunks)\n", doc.DocumentID, title, doc.ChunkCount)
	}
}

func sourceLabel(source models.Source) string {
	if source.Title != "" {
		return fmt.Sprintf("%s (%s)", source.Title, source.ChunkID)
	}
	return source.ChunkID
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
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
