package main

import (
	"context"
	_ "embed"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/tigerroll/caseflow/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/caseflow/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/caseflow/pkg/batch/adapter/database/gorm/sqlite"
	_ "github.com/tigerroll/caseflow/pkg/batch/adapter/storage/gcs"
	_ "github.com/tigerroll/caseflow/pkg/batch/adapter/storage/local"

	"github.com/tigerroll/caseflow/internal/app"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// embeddedConfig is the default configuration. Environment variables and an
// optional .env file override it at startup.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Shutting down...", sig)
		cancel()
	}()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	app.RunApplication(ctx, envFilePath, embeddedConfig)
}
