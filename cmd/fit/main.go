// Command fit loads a Lua model script, fits it with Levenberg-Marquardt and
// prints the estimated parameters with their standard errors.
//
// Settings come from the same FIT_* and LOG_* variables as the server;
// flags override them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/copyleftdev/dualfit/internal/config"
	"github.com/copyleftdev/dualfit/internal/errors"
	"github.com/copyleftdev/dualfit/internal/fit"
	"github.com/copyleftdev/dualfit/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalf("Failed to load configuration: %v", err)
	}

	var (
		maxIter  = flag.Int("max-iter", cfg.Fit.MaxIterations, "Maximum Levenberg-Marquardt iterations.")
		seed     = flag.Int64("seed", cfg.Fit.Seed, "Seed for RealVector.rand and randn (0 = clock).")
		timeout  = flag.Duration("timeout", cfg.Fit.Timeout, "Abort the fit after this long (0 = no limit).")
		asJSON   = flag.Bool("json", false, "Print the report as JSON.")
		logLevel = flag.String("log-level", cfg.Logging.Level, "debug|info|warn|error.")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: fit [flags] model.lua\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	cfg.Fit.MaxIterations = *maxIter

	path := flag.Arg(0)
	source, err := os.ReadFile(path)
	if err != nil {
		fatalf("read model: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  *logLevel,
		Format: cfg.Logging.Format,
		Output: "stderr",
	})
	if err != nil {
		fatalf("Failed to initialize logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := fit.NewRunner(fit.Options{
		Settings: cfg.FitSettings(),
		Seed:     *seed,
		Timeout:  *timeout,
		Logger:   logging.NewZapLogger(logger),
	})
	report, fitErr := runner.Fit(ctx, filepath.Base(path), string(source))

	if report != nil {
		if *asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			err = enc.Encode(report)
		} else {
			err = report.WriteTable(os.Stdout)
		}
		if err != nil {
			fatalf("write report: %v", err)
		}
	}
	if fitErr != nil {
		fatalf("%s: %v", errors.KindOf(fitErr), fitErr)
	}
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
