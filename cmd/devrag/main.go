package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/devrag/internal/apperr"
	cfgPkg "github.com/xhad/devrag/pkg/config"
	"github.com/xhad/devrag/pkg/pipeline"
)

type Flags struct {
	ConfigPath    string
	Tag           string
	Limit         int
	SkipFetch     bool
	SkipProcess   bool
	SkipVectorize bool
}

func main() {
	_ = godotenv.Load()
	flags := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		var stageErr *apperr.StageError
		if errors.As(err, &stageErr) {
			color.Red("\n✗ Pipeline failed in %s stage: %v", stageErr.Stage, stageErr.Err)
		} else {
			color.Red("\n✗ %v", err)
		}
		os.Exit(1)
	}
}

func parseFlags() Flags {
	var f Flags
	flag.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&f.Tag, "tag", "", "dev.to tag to fetch articles for")
	flag.IntVar(&f.Limit, "limit", 0, "Number of articles to list")
	flag.BoolVar(&f.SkipFetch, "skip-fetch", false, "Skip fetching articles")
	flag.BoolVar(&f.SkipProcess, "skip-process", false, "Skip chunking stored articles")
	flag.BoolVar(&f.SkipVectorize, "skip-vectorize", false, "Skip embedding and upserting chunks")
	flag.Parse()
	return f
}

func loadConfig(f Flags) (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(f.ConfigPath)
	if err != nil {
		return nil, err
	}

	// Command line flags override the file
	if f.Tag != "" {
		cfg.Source.Tag = f.Tag
	}
	if f.Limit != 0 {
		cfg.Source.Limit = f.Limit
	}
	cfg.Pipeline.SkipFetch = cfg.Pipeline.SkipFetch || f.SkipFetch
	cfg.Pipeline.SkipProcess = cfg.Pipeline.SkipProcess || f.SkipProcess
	cfg.Pipeline.SkipVectorize = cfg.Pipeline.SkipVectorize || f.SkipVectorize
	return cfg, nil
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

var stageLabels = map[string]string{
	pipeline.StageFetch:     " Fetching articles",
	pipeline.StageProcess:   " Chunking articles",
	pipeline.StageVectorize: " Embedding chunks",
}

func run(ctx context.Context, f Flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	p, err := pipeline.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Printf("Error releasing pipeline: %v", err)
		}
	}()

	bars := map[string]*progressbar.ProgressBar{}
	p.OnProgress = func(stage string, done, total int) {
		bar, ok := bars[stage]
		if !ok {
			bar = getProgressBar(total, stageLabels[stage])
			bars[stage] = bar
		}
		bar.Set(done)
	}

	color.Cyan("\nStarting RAG pipeline: tag=%q limit=%d backend=%s", cfg.Source.Tag, cfg.Source.Limit, cfg.VectorStore.Backend)

	report, runErr := p.Run(ctx)
	for _, bar := range bars {
		bar.Finish()
	}
	printSummary(report)
	return runErr
}

func printSummary(report *pipeline.Report) {
	if report == nil {
		return
	}
	fmt.Println()
	for _, stage := range report.Stages {
		switch stage {
		case pipeline.StageFetch:
			r := report.Fetch
			color.Green("✓ Fetch: %d listed, %d new, %d already stored", r.Listed, r.Fetched, r.Skipped)
			for _, failure := range r.Failures {
				color.Yellow("  ! article %s: %v", failure.ID, failure.Err)
			}
		case pipeline.StageProcess:
			color.Green("✓ Process: %d articles into %d chunks", report.Documents, report.Chunks)
		case pipeline.StageVectorize:
			color.Green("✓ Vectorize: %d points upserted", report.Points)
			for _, failure := range report.VectorizeFailures {
				color.Yellow("  ! chunk %s: %v", failure.ID, failure.Err)
			}
		}
	}
}
