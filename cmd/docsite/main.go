package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dgellow/docsite/internal"
	"github.com/dgellow/docsite/internal/config"
	"github.com/dgellow/docsite/internal/log"
)

var BuildVersion = "dev"

func validateConfig(envFile string) error {
	cfg, err := config.Parse(envFile)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}
	result := config.Validate(&cfg)

	fmt.Printf("Validating environment (env file: %s)\n", envFile)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, err := range result.Errors {
			fmt.Printf("  - %s: %s\n", err.Path, err.Message)
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(result.Warnings))
		for _, warn := range result.Warnings {
			fmt.Printf("  - %s: %s\n", warn.Path, warn.Message)
		}
	}

	fmt.Println()
	if len(result.Errors) == 0 && len(result.Warnings) == 0 {
		fmt.Println("Result: PASS")
	} else if len(result.Errors) == 0 {
		fmt.Println("Result: PASS (with warnings)")
	} else {
		fmt.Println("Result: FAIL")
	}

	if len(result.Errors) > 0 {
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
	}
	return nil
}

func main() {
	envFile := flag.String("env-file", ".env", "path to an optional dotenv file")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	validate := flag.Bool("validate", false, "validate the environment and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}

	if *validate {
		if err := validateConfig(*envFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting docsite", map[string]any{
		"version": BuildVersion,
		"addr":    cfg.Addr(),
	})

	ctx := context.Background()
	docsite, err := internal.NewDocsite(ctx, cfg)
	if err != nil {
		log.LogError("Failed to create docsite: %v", err)
		os.Exit(1)
	}

	if err := docsite.Run(); err != nil {
		log.LogError("Failed to start server: %v", err)
		os.Exit(1)
	}
}
