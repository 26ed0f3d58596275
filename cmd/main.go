package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yungbote/copilot-adoption-backend/internal/app"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/envutil"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

func main() {
	var modeFlag string
	flag.StringVar(&modeFlag, "mode", envutil.String("RUN_MODE", "all"), "api, worker or all")
	flag.Parse()

	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	mode, err := app.ParseMode(modeFlag)
	if err != nil {
		log.Error("Invalid run mode", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, log, mode)
	if err != nil {
		log.Error("Failed to init app", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		application.Close(closeCtx)
	}()

	if err := application.Run(ctx); err != nil {
		log.Error("Application stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("Application stopped")
}
