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

	cfgPkg "github.com/xhad/devrag/pkg/config"
	"github.com/xhad/devrag/pkg/pipeline"
	"github.com/xhad/devrag/pkg/retrieval"
)

type Flags struct {
	ConfigPath string
	TopK       int
	Streaming  bool
}

func main() {
	_ = godotenv.Load()

	var f Flags
	flag.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	flag.IntVar(&f.TopK, "k", 0, "Number of chunks to retrieve (default from config)")
	flag.BoolVar(&f.Streaming, "stream", true, "Enable streaming responses")
	flag.Parse()

	if err := run(context.Background(), f); err != nil {
		log.Fatal(err)
	}
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

func run(ctx context.Context, f Flags) error {
	cfg, err := cfgPkg.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if f.TopK > 0 {
		cfg.Retrieval.TopK = f.TopK
	}

	p, err := pipeline.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer p.Close()

	r, err := p.Retriever(ctx)
	if err != nil {
		return fmt.Errorf("failed to open collection %s: %w", cfg.VectorStore.Collection, err)
	}

	color.Cyan("\nAsk the dev.to knowledge base (type 'exit' to quit)")

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
		if q := strings.ToLower(query); q == "exit" || q == "quit" {
			break
		}

		querySpinner := getSpinner(" Searching articles...")
		hits, err := r.Search(ctx, query, 0)
		querySpinner.Finish()
		fmt.Print("\r")

		if err != nil {
			color.Red("Error querying articles: %v\n", err)
			continue
		}
		printHits(hits)

		streamed := false
		var onChunk func(string)
		if f.Streaming {
			onChunk = func(chunk string) {
				if !streamed {
					assistantPrompt("\nAssistant: ")
					streamed = true
				}
				fmt.Print(chunk)
			}
		}

		answer := r.Complete(ctx, query, hits, onChunk)
		switch {
		case answer.Outcome == retrieval.GenerationFailed:
			color.Red("\nError: %v\n", answer.GenerationErr)
		case answer.Outcome == retrieval.RetrievalOnly:
			color.Yellow("\n(no language model configured, showing retrieved chunks only)\n")
		case streamed:
			fmt.Print("\n")
		default:
			assistantPrompt("\nAssistant: %s\n", answer.Text)
		}
	}

	return scanner.Err()
}

func printHits(hits []retrieval.Hit) {
	color.Blue("\n%d results found", len(hits))
	for i, h := range hits {
		fmt.Println(strings.Repeat("-", 20))
		color.White("Result %d | Score: %.4f", i+1, h.Score)
		fmt.Printf("Source: %s\n", h.Title)
		fmt.Printf("URL: %s\n", h.URL)
		fmt.Printf("Content: %s...\n", h.Excerpt)
	}
}
