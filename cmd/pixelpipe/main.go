// Command pixelpipe runs a single operation descriptor against the local
// engine and prints the output info as JSON.
//
//	pixelpipe [--out path] [--metadata | --stats] operation.json
//
// The descriptor is read from stdin when the path is "-". With --metadata
// or --stats the descriptor is an input spec instead of an operation.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/dunamismax/pixelpipe/internal/bootstrap"
	"github.com/dunamismax/pixelpipe/internal/config"
	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/logging"
	"github.com/dunamismax/pixelpipe/internal/metadata"
	"github.com/dunamismax/pixelpipe/internal/pipeline"
	"github.com/dunamismax/pixelpipe/internal/stats"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	out         string
	metadata    bool
	stats       bool
	concurrency int
	logLevel    string
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var opts options
	flags := pflag.NewFlagSet("pixelpipe", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVarP(&opts.out, "out", "o", "", "write the encoded output to this path")
	flags.BoolVar(&opts.metadata, "metadata", false, "describe the input instead of processing it")
	flags.BoolVar(&opts.stats, "stats", false, "print pixel statistics of the input")
	flags.IntVar(&opts.concurrency, "concurrency", 0, "pipeline worker limit (0 uses the engine default)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: pixelpipe [flags] <descriptor.json | ->")
		return 2
	}

	logging.Configure(opts.logLevel, "text")
	logrus.SetOutput(stderr)
	logger := logging.New("cli")

	raw, err := readDescriptor(flags.Arg(0), stdin)
	if err != nil {
		logger.WithError(err).Error("read descriptor")
		return 1
	}

	cfg := config.Load()
	if opts.concurrency > 0 {
		cfg.Engine.Concurrency = opts.concurrency
	}
	eng := bootstrap.NewEngine(cfg.Engine)
	proc := pipeline.New(eng, pipeline.Options{Concurrency: cfg.Engine.Concurrency, Logger: logger})

	var result any
	switch {
	case opts.metadata || opts.stats:
		spec := domain.NewInputSpec()
		if err := json.Unmarshal(raw, &spec); err != nil {
			logger.WithError(err).Error("parse input spec")
			return 1
		}
		if opts.metadata {
			result, err = metadata.NewReader(proc.Inputs()).Read(ctx, spec)
		} else {
			result, err = stats.NewReader(eng, proc.Inputs()).Read(ctx, spec)
		}
	default:
		result, err = process(ctx, proc, raw, opts.out, logger)
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %s\n", domain.KindOf(err), domain.Message(err))
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.WithError(err).Error("write result")
		return 1
	}
	return 0
}

func process(ctx context.Context, proc *pipeline.Processor, raw []byte, out string, logger *logrus.Entry) (domain.Info, error) {
	op := domain.NewOperation()
	if err := json.Unmarshal(raw, &op); err != nil {
		return domain.Info{}, fmt.Errorf("%w: %v", domain.ErrInvalidInputSpec, err)
	}
	if out != "" {
		op.FileOut, op.ObjectOut = out, ""
	}
	if strings.TrimSpace(op.FileOut) == "" {
		return domain.Info{}, fmt.Errorf("%w: no output path; pass --out or set file_out", domain.ErrInvalidInputSpec)
	}

	res, err := proc.Run(ctx, op)
	if err != nil {
		return domain.Info{}, err
	}
	for _, w := range res.Warnings {
		logger.WithField("stage", w.Stage).Warn(w.Message)
	}
	return res.Info, nil
}

func readDescriptor(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("descriptor %s does not exist", path)
	}
	return data, err
}
