// Command replay runs a YAML scenario against an in-memory engine and
// exits non-zero when a step does not behave as scripted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/wekeepgrowing/semo-recurring/internal/replay"
	"github.com/wekeepgrowing/semo-recurring/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	file := flag.String("f", "", "scenario file (YAML)")
	logLevel := flag.String("log-level", "warn", "engine log level")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -f scenario.yaml")
		os.Exit(2)
	}

	log, _, err := logger.NewZapLogger(logger.Config{Level: *logLevel, Format: "console", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	scenario, err := replay.Load(*file)
	if err != nil {
		log.Fatal("Failed to load scenario", zap.Error(err))
	}

	ctx := context.Background()
	runner, err := replay.NewRunner(ctx, scenario, log)
	if err != nil {
		log.Fatal("Failed to prepare scenario", zap.Error(err))
	}

	fmt.Printf("scenario: %s\n", scenario.Name)
	report, err := runner.Run(ctx, os.Stdout)
	if err != nil {
		fmt.Printf("FAIL %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("PASS %d steps, final tick %d\n", report.Steps, report.Tick)
}
