package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	cfgPkg "github.com/xhad/devrag/pkg/config"
	"github.com/xhad/devrag/pkg/pipeline"
	"github.com/xhad/devrag/server"
)

func main() {
	_ = godotenv.Load()

	var configPath string
	var streaming bool
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.BoolVar(&streaming, "stream", true, "Enable streaming responses")
	flag.Parse()

	cfg, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.Build(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer p.Close()

	r, err := p.Retriever(ctx)
	if err != nil {
		log.Fatal(err)
	}

	s := server.NewWSServer(server.Config{
		Port:      cfg.Server.Port,
		TopK:      cfg.Retrieval.TopK,
		Streaming: streaming,
	}, r)
	if err := s.ListenAndServe(ctx); err != nil {
		log.Print(err)
	}
}
