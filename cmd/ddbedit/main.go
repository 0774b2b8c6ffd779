// Command ddbedit edits a DynamoDB table as a grid, either from an
// interactive prompt or over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mrtj/dynamodb-connection/editor"
	"github.com/mrtj/dynamodb-connection/httpapi"
	"github.com/mrtj/dynamodb-connection/internal/baseline"
	"github.com/mrtj/dynamodb-connection/reconcile"
	"github.com/mrtj/dynamodb-connection/store"
)

func envOr(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(name)); err == nil {
		return v
	}
	return def
}

type options struct {
	table       string
	keyAttr     string
	versionAttr string
	endpoint    string
	region      string
	profile     string
	concurrency int
	baseline    string
	restore     bool
	serve       string
	history     string
	debug       bool
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.table, "table", envOr("DDB_TABLE", ""), "table to edit (DDB_TABLE)")
	flag.StringVar(&o.keyAttr, "key", envOr("DDB_KEY_ATTRIBUTE", ""), "partition key attribute; discovered when empty (DDB_KEY_ATTRIBUTE)")
	flag.StringVar(&o.versionAttr, "version-attr", envOr("DDB_VERSION_ATTRIBUTE", ""), "numeric attribute used for optimistic locking")
	flag.StringVar(&o.endpoint, "endpoint", envOr("DDB_ENDPOINT", ""), "DynamoDB endpoint, e.g. http://localhost:8000 (DDB_ENDPOINT)")
	flag.StringVar(&o.region, "region", envOr("AWS_REGION", ""), "AWS region (AWS_REGION)")
	flag.StringVar(&o.profile, "profile", envOr("AWS_PROFILE", ""), "shared config profile (AWS_PROFILE)")
	flag.IntVar(&o.concurrency, "concurrency", envInt("DDB_CONCURRENCY", reconcile.DefaultConfig().Concurrency), "rows written in parallel (DDB_CONCURRENCY)")
	flag.StringVar(&o.baseline, "baseline", "", "file keeping the last loaded snapshot between runs")
	flag.BoolVar(&o.restore, "restore", false, "start from the saved baseline instead of scanning")
	flag.StringVar(&o.serve, "serve", "", "serve HTTP on this address instead of the prompt, e.g. :8080")
	flag.StringVar(&o.history, "history", ".ddbedit_history", "prompt history file")
	flag.BoolVar(&o.debug, "debug", false, "debug logging")
	flag.Parse()
	return o
}

func newClient(ctx context.Context, o options) (*dynamodb.Client, error) {
	var loaders []func(*config.LoadOptions) error
	if o.region != "" {
		loaders = append(loaders, config.WithRegion(o.region))
	}
	if o.profile != "" {
		loaders = append(loaders, config.WithSharedConfigProfile(o.profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(opts *dynamodb.Options) {
		if o.endpoint != "" {
			opts.BaseEndpoint = aws.String(o.endpoint)
		}
	}), nil
}

func main() {
	o := parseFlags()

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(o, logger); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(o options, logger *slog.Logger) error {
	if o.table == "" {
		return errors.New("ddbedit: -table or DDB_TABLE is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newClient(ctx, o)
	if err != nil {
		return err
	}
	cfg := store.DefaultConfig(o.table)
	cfg.KeyAttribute = o.keyAttr
	cfg.VersionAttribute = o.versionAttr
	s, err := store.Open(ctx, client, cfg, logger)
	if err != nil {
		return err
	}

	rcfg := reconcile.DefaultConfig()
	rcfg.Concurrency = o.concurrency
	opts := editor.Options{}
	if o.baseline != "" {
		bs, err := baseline.Open(o.baseline, logger)
		if err != nil {
			return err
		}
		defer bs.Close()
		opts.Persist = bs
	}
	ed := editor.New(s, reconcile.New(s, rcfg, logger), opts, logger)

	if o.restore {
		err = ed.Restore()
	} else {
		err = ed.Load(ctx)
	}
	if err != nil {
		return err
	}

	if o.serve != "" {
		return serve(ctx, o.serve, ed, s, logger)
	}

	repl := NewREPL(ed, s, os.Stdout)
	if err := repl.Reset(); err != nil {
		return err
	}
	if err := repl.Open(o.history); err != nil {
		return err
	}
	defer repl.Close()
	return repl.Run(ctx)
}

func serve(ctx context.Context, addr string, ed *editor.Editor, s *store.Store, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg.MustRegister(reconcile.Collectors()...)

	app := &httpapi.App{Editor: ed, Reader: s, Gatherer: reg, Logger: logger}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	app.Register(r)

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("ddbedit: serving", "addr", addr, "table", s.TableName())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
