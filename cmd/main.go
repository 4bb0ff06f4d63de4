package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/avatar-stream/pkg/runtime"
)

func main() {
	configPath := flag.String("config", "", "path to a yaml config file (default: conf.yaml in the project root)")
	flag.Parse()

	server, err := runtime.New(*configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		defer fallback.Sync()
		fallback.Fatal("failed to start avatar-stream", zap.Error(err))
	}
	logger := server.Logger()
	defer logger.Sync()

	go func() {
		if err := server.Run(); err != nil {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
}
