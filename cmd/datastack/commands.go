package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/acksell/datastack"
	"github.com/acksell/datastack/browse"
	"github.com/acksell/datastack/config"
	"github.com/acksell/datastack/predicate"
	"github.com/acksell/datastack/telemetry"
)

// command loads the config, parses fs over it and opens the stack with a
// logger built from the result. The caller closes the stack.
func command(ctx context.Context, fs *flag.FlagSet, args []string) (*datastack.Stack, config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cfg, nil, err
	}
	storeFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return nil, cfg, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, cfg, nil, err
	}
	stack, err := openStack(ctx, cfg, logger)
	if err != nil {
		return nil, cfg, nil, err
	}
	return stack, cfg, logger, nil
}

func printObject(obj datastack.Object) error {
	data, err := browse.EncodeObject(obj)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runPut(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	id := fs.String("id", "", "object ID (default: a new UUID)")
	fs.Usage = func() {
		fmt.Println(`datastack put - Store an object from JSON

Usage:
  datastack put [flags] <entity> <json>

Flags:`)
		fs.PrintDefaults()
	}

	stack, _, _, err := command(ctx, fs, args)
	if err != nil {
		return err
	}
	defer stack.Close()
	if fs.NArg() != 2 {
		fs.Usage()
		return fmt.Errorf("expected <entity> <json>")
	}

	attrs, err := browse.DecodeItem([]byte(fs.Arg(1)))
	if err != nil {
		return fmt.Errorf("parse object: %w", err)
	}
	c := stack.Main()
	var obj datastack.Object
	if *id == "" {
		obj, err = c.Insert(fs.Arg(0), attrs)
	} else {
		obj = datastack.Object{Entity: fs.Arg(0), ID: *id, Attributes: attrs}
		err = c.Put(obj)
	}
	if err != nil {
		return err
	}
	if err := stack.SaveTree(ctx, c); err != nil {
		return err
	}
	return printObject(obj)
}

func runGet(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	var (
		id    = fs.String("id", "", "object ID")
		attr  = fs.String("attr", "", "attribute key path to match")
		value = fs.String("value", "", "value the attribute must equal")
	)
	fs.Usage = func() {
		fmt.Println(`datastack get - Print an object by ID or by attribute

Usage:
  datastack get [flags] <entity>

Without --id the first object, by ID, where --attr equals --value is
printed. Without --id and --attr the first object of the entity is printed.

Flags:`)
		fs.PrintDefaults()
	}

	stack, _, _, err := command(ctx, fs, args)
	if err != nil {
		return err
	}
	defer stack.Close()
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected <entity>")
	}
	entity := fs.Arg(0)

	var obj *datastack.Object
	switch {
	case *id != "":
		obj, err = stack.Main().Get(ctx, datastack.Key{Entity: entity, ID: *id})
	case *attr != "":
		obj, err = stack.GetEntity(ctx, entity, *attr, *value, stack.Main())
	default:
		obj, err = stack.Entity(ctx, entity, nil, stack.Main())
	}
	if err != nil {
		return err
	}
	if obj == nil {
		fmt.Fprintln(os.Stderr, "not found")
		return nil
	}
	return printObject(*obj)
}

func runClear(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	var (
		attr  = fs.String("attr", "", "attribute key path to match (default: every object)")
		value = fs.String("value", "", "value the attribute must equal")
	)
	fs.Usage = func() {
		fmt.Println(`datastack clear - Delete objects matching an attribute

Usage:
  datastack clear [flags] <entity>

All deletes are saved together. A DynamoDB store accepts at most 100
changes per save, so clear larger sets in batches with narrower --attr
and --value filters.

Flags:`)
		fs.PrintDefaults()
	}

	stack, _, _, err := command(ctx, fs, args)
	if err != nil {
		return err
	}
	defer stack.Close()
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected <entity>")
	}

	var p predicate.Predicate
	if *attr != "" {
		p = stack.Predicate(*attr, *value)
	}
	n, err := stack.ClearContents(ctx, fs.Arg(0), stack.Main(), p)
	if err != nil {
		return err
	}
	if err := stack.SaveTree(ctx, stack.Main()); err != nil {
		return err
	}
	fmt.Printf("deleted %d\n", n)
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", 0, "HTTP port (default: port from config, 3070)")
	fs.Usage = func() {
		fmt.Println(`datastack serve - Serve the JSON API

Usage:
  datastack serve [flags]

Flags:`)
		fs.PrintDefaults()
	}

	stack, cfg, logger, err := command(ctx, fs, args)
	if err != nil {
		return err
	}
	defer stack.Close()

	shutdown, err := telemetry.Setup(ctx, "datastack", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer shutdown(context.Background())

	if *port == 0 {
		*port = cfg.Port
	}
	return browse.NewServer(stack, browse.ServerConfig{Port: *port, Logger: logger}).Run(ctx)
}
