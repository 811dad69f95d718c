package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/fumitoshi0524/depthnet/calib"
	"github.com/fumitoshi0524/depthnet/config"
	"github.com/fumitoshi0524/depthnet/data"
	"github.com/fumitoshi0524/depthnet/loss"
	"github.com/fumitoshi0524/depthnet/metric"
	"github.com/fumitoshi0524/depthnet/model"
	"github.com/fumitoshi0524/depthnet/trainer"
)

func main() {
	configPath := flag.String("config", filepath.Join("configs", "unet.yaml"), "training config file")
	checkpoint := flag.String("checkpoint", "", "checkpoint to evaluate, e.g. saved/models/<name>/<run>/model_best.json")
	dataDir := flag.String("data", "", "dataset directory; defaults to the config's data_dir")
	flag.Parse()

	if *checkpoint == "" {
		log.Fatalf("-checkpoint is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *dataDir != "" {
		cfg.DataLoader.Type = config.DataDSEC
		cfg.DataLoader.Args.DataDir = *dataDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var proj *calib.Projection
	if cfg.NeedsProjection() {
		if proj, err = calib.LoadPair(cfg.Projection.Path, cfg.Projection.Pair); err != nil {
			log.Fatalf("load projection: %v", err)
		}
	}
	var ds data.Dataset
	if cfg.DataLoader.Type == config.DataSynthetic {
		a := cfg.DataLoader.Args
		ds = &data.SyntheticDataset{N: a.Samples, Channels: cfg.Arch.Args.InChannels, Height: a.Height, Width: a.Width, Seed: cfg.Seed + 1}
	} else if ds, err = data.NewDirDataset(cfg.DataLoader.Args.DataDir); err != nil {
		log.Fatalf("open dataset: %v", err)
	}
	loader, err := data.NewLoader(ds, data.LoaderConfig{BatchSize: cfg.DataLoader.Args.BatchSize})
	if err != nil {
		log.Fatalf("loader: %v", err)
	}

	m, err := model.Build(cfg.Arch.Type, cfg.Arch.Args)
	if err != nil {
		log.Fatalf("build model: %v", err)
	}
	if err := trainer.LoadModel(*checkpoint, m); err != nil {
		log.Fatalf("%v", err)
	}
	criterion, err := loss.Lookup(cfg.Loss, proj)
	if err != nil {
		log.Fatalf("%v", err)
	}
	metrics, err := metric.LookupAll(cfg.Metrics, proj)
	if err != nil {
		log.Fatalf("%v", err)
	}

	result, err := trainer.Evaluate(ctx, m, loader, criterion, metrics)
	if err != nil {
		log.Fatalf("evaluate: %v", err)
	}
	fmt.Printf("evaluated %d samples from %s\n", loader.NSamples(), *checkpoint)
	for _, k := range slices.Sorted(maps.Keys(result)) {
		fmt.Printf("    %-24s: %.6f\n", k, result[k])
	}
}
