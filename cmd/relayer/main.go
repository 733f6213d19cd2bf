package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/trufnetwork/fdc-relay/app"
)

func main() {
	if err := app.RootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func init() {
	zap.ReplaceGlobals(zap.Must(zap.NewProduction()))
}
