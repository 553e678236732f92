// Command leadctl creates a lead and uploads its documents from a terminal.
//
//	leadctl submit --form form.yaml --doc PAN_CARD=./pan.pdf --doc BANK_STATEMENT=./march.pdf
//	leadctl events --pattern 'lead.#'
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/leadflow/leadflow-backend/pkg/config"
	"github.com/leadflow/leadflow-backend/pkg/logger"
)

const usage = `usage: leadctl <command> [flags]

commands:
  submit   validate a form, create the lead and upload its documents
  events   print lead lifecycle events as they are published
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// A .env next to the binary is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load("leadctl")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New("leadctl", cfg.Server.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "submit":
		err = runSubmit(ctx, cfg, log, os.Args[2:])
	case "events":
		err = runEvents(ctx, cfg, log, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "leadctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}
