// datastack is a CLI over a datastack store.
//
// # Installation
//
//	go install github.com/acksell/datastack/cmd/datastack@latest
//
// # Commands
//
//	datastack put     Store an object from JSON
//	datastack get     Print an object by ID or by attribute
//	datastack clear   Delete objects matching an attribute
//	datastack serve   Serve the JSON API
//
// Settings come from datastack.yaml (searched from the working directory
// upward) and DATASTACK_* environment variables. Flags override both.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	// Remove the subcommand from args so flag parsing works
	os.Args = append([]string{os.Args[0]}, os.Args[2:]...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "put":
		err = runPut(ctx, os.Args[1:])
	case "get":
		err = runGet(ctx, os.Args[1:])
	case "clear":
		err = runClear(ctx, os.Args[1:])
	case "serve", "ui":
		err = runServe(ctx, os.Args[1:])
	case "help", "-h", "--help":
		printUsage()
		return
	case "version", "-v", "--version":
		fmt.Printf("datastack version %s\n", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "datastack: unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "datastack %s: %v\n", cmd, err)
		stop()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`datastack - object store tools

Usage:
  datastack <command> [flags]

Commands:
  put     Store an object from JSON
  get     Print an object by ID or by attribute
  clear   Delete objects matching an attribute
  serve   Serve the JSON API

Examples:
  datastack put --db app.sqlite User '{"email":"bob@example.com","age":30}'
  datastack get --db app.sqlite --attr email --value bob@example.com User
  datastack clear --db app.sqlite --attr age --value 30 User
  datastack serve --store memory --port 3070

Configuration (optional):
  Create datastack.yaml for defaults:

    store: sqlite          # badger, sqlite, memory or dynamodb
    path: ./app.sqlite     # badger directory or SQLite file
    logLevel: info
    port: 3070
    otelEndpoint: ""       # OTLP/HTTP endpoint for traces
    dynamodb:
      table: objects
      region: eu-north-1
      endpoint: http://localhost:8000

  DATASTACK_* environment variables override the file,
  e.g. DATASTACK_STORE, DATASTACK_DYNAMODB_TABLE.

Run 'datastack <command> --help' for more information on a command.`)
}
