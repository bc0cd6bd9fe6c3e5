// releasepipe runs the release pipeline once or serves it over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"releasepipe/internal/cli"
)

func main() {
	level := new(slog.LevelVar)
	// stdout carries the run report
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(level); err != nil {
		if !errors.Is(err, cli.ErrRunFailed) {
			slog.Error("releasepipe failed", "error", err)
		}
		os.Exit(1)
	}
}

func run(level *slog.LevelVar) error {
	return cli.NewRootCmd(level).ExecuteContext(context.Background())
}
