package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"pixelmind/internal/aibridge"
	"pixelmind/internal/app"
	"pixelmind/internal/cli"
	"pixelmind/internal/config"
	"pixelmind/internal/logging"
	"pixelmind/internal/pipeline"
	"pixelmind/internal/render"
	"pixelmind/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		log.Fatal("Failed to set up logging:", err)
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		log.Fatal("Failed to create storage:", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var bridge aibridge.Bridge
	if b, err := cli.NewBridge(ctx, cfg, logger); err != nil {
		logger.Debug("AI features disabled", "err", err)
	} else {
		bridge = b
	}

	fonts := render.DefaultFontBook()
	if len(cfg.Editor.RegularFonts) > 0 || len(cfg.Editor.BoldFonts) > 0 {
		if fonts, err = render.NewFontBook(logger, cfg.Editor.RegularFonts, cfg.Editor.BoldFonts); err != nil {
			log.Fatal("Failed to load fonts:", err)
		}
	}
	comp := render.NewCompositor(render.NewSurface(cfg.Editor.MaxPixels), fonts, logger)

	ctrl := app.New(app.Deps{Config: cfg, Log: logger, Store: store, Compositor: comp, AI: bridge})
	pipe := pipeline.New(ctx, 1, logger, store, ctrl.Processor())
	defer pipe.Stop()

	if err := cli.NewRootCmd(cfg, logger, store, pipe, ctrl).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
