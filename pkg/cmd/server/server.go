package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // by design
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"golang.org/x/sync/errgroup"

	"github.com/mpapenbr/nexttogo-service-go/log"
	"github.com/mpapenbr/nexttogo-service-go/pkg/config"
	"github.com/mpapenbr/nexttogo-service-go/pkg/db/migrate"
	"github.com/mpapenbr/nexttogo-service-go/pkg/db/postgres"
	"github.com/mpapenbr/nexttogo-service-go/pkg/endpoints/public"
	"github.com/mpapenbr/nexttogo-service-go/pkg/feed"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
	natsrelay "github.com/mpapenbr/nexttogo-service-go/pkg/relay/nats"
	"github.com/mpapenbr/nexttogo-service-go/pkg/service"
	"github.com/mpapenbr/nexttogo-service-go/pkg/store"
	"github.com/mpapenbr/nexttogo-service-go/pkg/store/memory"
	pgstore "github.com/mpapenbr/nexttogo-service-go/pkg/store/postgres"
	"github.com/mpapenbr/nexttogo-service-go/pkg/store/sqlite"
	"github.com/mpapenbr/nexttogo-service-go/pkg/updater"
	"github.com/mpapenbr/nexttogo-service-go/pkg/utils"
	"github.com/mpapenbr/nexttogo-service-go/pkg/utils/certs"
)

var (
	traefikCerts      string
	traefikCertDomain string
)

//nolint:funlen // by design
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "starts the next-to-go server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startServer(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&config.Addr,
		"addr",
		"a",
		"localhost:8080",
		"http server listen address")
	cmd.Flags().StringVar(&config.Store,
		"store",
		config.StoreMemory,
		"store backend (memory, postgres, sqlite)")
	cmd.Flags().StringVar(&config.SQLiteFile,
		"sqlite-file",
		"nexttogo.db",
		"database file for the sqlite store")
	cmd.Flags().StringVar(&config.FeedURL,
		"feed-url",
		feed.DefaultBaseURL,
		"base URL of the race feed")
	cmd.Flags().StringVar(&config.FeedTimeout,
		"feed-timeout",
		"10s",
		"timeout for a single feed request")
	cmd.Flags().IntVar(&config.Count,
		"count",
		service.MaxNumberOfRaces,
		"number of races presented to clients")
	cmd.Flags().StringSliceVar(&config.Categories,
		"categories",
		[]string{},
		"initially selected categories (greyhound, harness, horse), empty means all")
	cmd.Flags().StringVar(&config.TLSCertFile,
		"tls-cert-file",
		"",
		"path to TLS certificate (enables https)")
	cmd.Flags().StringVar(&config.TLSKeyFile,
		"tls-key-file",
		"",
		"path to TLS key")
	cmd.Flags().StringVar(&traefikCerts,
		"traefik-certs",
		"",
		"path to traefik acme.json to read the certificate from")
	cmd.Flags().StringVar(&traefikCertDomain,
		"traefik-cert-domain",
		"",
		"domain of the certificate within the traefik certs")
	cmd.Flags().StringVar(&config.NatsURL,
		"nats-url",
		"",
		"publish race updates to this NATS server")
	cmd.Flags().StringVar(&config.NatsSubject,
		"nats-subject",
		"nexttogo",
		"subject prefix for NATS messages")
	cmd.Flags().StringVar(&config.NatsBucket,
		"nats-bucket",
		"",
		"JetStream key value bucket for the latest races")
	cmd.Flags().StringVar(&config.LogLevel,
		"log-level",
		"info",
		"controls the log level (debug, info, warn, error, fatal)")
	cmd.Flags().StringVar(&config.SQLLogLevel,
		"sql-log-level",
		"debug",
		"controls the log level for sql methods")
	cmd.Flags().StringVar(&config.LogFormat,
		"log-format",
		"json",
		"controls the log output format")
	cmd.Flags().StringVar(&config.LogFilter,
		"log-filter",
		"",
		"zapfilter rules, e.g. 'debug+:updater* info+:*'")
	cmd.Flags().BoolVar(&config.EnableTelemetry,
		"enable-telemetry",
		false,
		"enables telemetry")
	cmd.Flags().StringVar(&config.TelemetryEndpoint,
		"telemetry-endpoint",
		"localhost:4317",
		"Endpoint that receives open telemetry data ('stdout' for local output)")
	cmd.Flags().IntVar(&config.ProfilingPort,
		"profiling-port",
		0,
		"port to use for providing profiling data")
	return cmd
}

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

func setupLogger() (logger, sqlLogger *log.Logger) {
	opts := []log.Option{log.WithCaller(true), log.AddCallerSkip(1)}
	if config.LogFilter != "" {
		if filter, err := log.WithFilter(config.LogFilter); err == nil {
			opts = append(opts, filter)
		} else {
			fmt.Fprintf(os.Stderr, "ignoring log filter: %v\n", err)
		}
	}
	switch config.LogFormat {
	case "json":
		logger = log.New(os.Stderr,
			parseLogLevel(config.LogLevel, log.InfoLevel), opts...)
		sqlLogger = log.New(os.Stderr,
			parseLogLevel(config.SQLLogLevel, log.InfoLevel), opts...)
	default:
		logger = log.DevLogger(os.Stderr,
			parseLogLevel(config.LogLevel, log.DebugLevel), opts...)
		sqlLogger = log.DevLogger(os.Stderr,
			parseLogLevel(config.SQLLogLevel, log.InfoLevel), opts...)
	}
	return logger, sqlLogger
}

//nolint:funlen,cyclop // by design
func startServer(parent context.Context) error {
	logger, sqlLogger := setupLogger()
	log.ResetDefault(logger)

	log.Debug("Config:",
		log.String("store", config.Store),
		log.String("feed", config.FeedURL),
		log.Int("count", config.Count),
		log.Strings("categories", config.Categories),
		log.String("addr", config.Addr),
		log.String("nats", config.NatsURL),
	)

	categories, err := parseCategories(config.Categories)
	if err != nil {
		return err
	}

	if config.ProfilingPort > 0 {
		log.Info("Starting profiling server on port", log.Int("port", config.ProfilingPort))
		go func() {
			//nolint:gosec // by design
			err := http.ListenAndServe(
				fmt.Sprintf("localhost:%d", config.ProfilingPort),
				nil)
			if err != nil {
				log.Error("Profiling server stopped", log.ErrorField(err))
			}
		}()
	}

	waitForRequiredServices()

	var telemetry *config.Telemetry
	pgTraceOption := postgres.WithTracer(sqlLogger, log.DebugLevel)
	if config.EnableTelemetry {
		log.Info("Enabling telemetry")
		if telemetry, err = config.SetupTelemetry(parent); err == nil {
			pgTraceOption = postgres.WithOtlpTracer()
		} else {
			log.Warn("Could not setup telemetry", log.ErrorField(err))
		}
		err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
		if err != nil {
			log.Warn("Could not start runtime metrics", log.ErrorField(err))
		}
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.AddToContext(ctx, logger)

	raceStore, closeStore, err := createStore(ctx, pgTraceOption)
	if err != nil {
		log.Error("store could not be created", log.ErrorField(err))
		return err
	}
	defer closeStore()

	feedOpts := []feed.Option{}
	if d, parseErr := time.ParseDuration(config.FeedTimeout); parseErr == nil {
		feedOpts = append(feedOpts, feed.WithTimeout(d))
	} else {
		log.Warn("Invalid feed timeout, using default", log.ErrorField(parseErr))
	}
	if telemetry != nil {
		feedOpts = append(feedOpts, feed.WithTracing())
	}
	source := feed.NewClient(config.FeedURL, feedOpts...)

	upd := updater.New(raceStore, source)
	defer upd.Close()

	if config.NatsURL != "" {
		relay, closeRelay, relayErr := createRelay(ctx)
		if relayErr != nil {
			log.Error("nats relay could not be created", log.ErrorField(relayErr))
			return relayErr
		}
		relay.Run(upd.NextRaces(), upd.BackgroundErrors())
		defer closeRelay()
	}

	svc := service.NewNextToGoService(upd,
		service.WithCount(config.Count),
		service.WithCategories(categories...))
	defer svc.Close()
	if err = svc.Init(); err != nil {
		log.Error("race updates could not be started", log.ErrorField(err))
		return err
	}

	serverOpts := []public.Option{}
	if provider := createCertProvider(); provider != nil {
		serverOpts = append(serverOpts, public.WithTLSConfig(provider.TLSConfig()))
		go func() {
			if watchErr := provider.Watch(ctx); watchErr != nil {
				log.Warn("cert reload disabled", log.ErrorField(watchErr))
			}
		}()
	}
	srv := public.NewServer(svc, serverOpts...)
	setupGoRoutinesDump()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(config.Addr)
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Debug("Shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	log.Info("Server started")
	err = g.Wait()
	if telemetry != nil {
		telemetry.Shutdown()
	}
	if err != nil {
		log.Error("server stopped with error", log.ErrorField(err))
		return err
	}
	log.Info("Server terminated")
	return nil
}

func parseCategories(ids []string) ([]model.RacingCategory, error) {
	ret := make([]model.RacingCategory, 0, len(ids))
	for _, id := range ids {
		c, err := model.ParseCategory(id)
		if err != nil {
			return nil, err
		}
		ret = append(ret, c)
	}
	return ret, nil
}

//nolint:whitespace // editor/linter issue
func createStore(ctx context.Context, traceOpt postgres.PoolConfigOption) (
	s store.Store, closer func(), err error,
) {
	switch config.Store {
	case config.StoreMemory:
		return memory.New(), func() {}, nil
	case config.StoreSQLite:
		var st *sqlite.Store
		if st, err = sqlite.Open(ctx, config.SQLiteFile); err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case config.StorePostgres:
		if err = migrate.MigrateDb(config.DB); err != nil {
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
		pool, poolErr := postgres.NewPool(ctx, config.DB, traceOpt)
		if poolErr != nil {
			return nil, nil, poolErr
		}
		return pgstore.New(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", config.Store)
	}
}

func createRelay(ctx context.Context) (*natsrelay.Relay, func(), error) {
	conn, err := nats.Connect(config.NatsURL, nats.Name("nexttogo-service"))
	if err != nil {
		return nil, nil, err
	}
	opts := []natsrelay.Option{natsrelay.WithSubject(config.NatsSubject)}
	if config.NatsBucket != "" {
		kv, kvErr := natsrelay.SetupKV(ctx, conn, config.NatsBucket)
		if kvErr != nil {
			conn.Close()
			return nil, nil, kvErr
		}
		opts = append(opts, natsrelay.WithKeyValue(kv))
	}
	relay := natsrelay.NewRelay(conn, opts...)
	return relay, func() {
		relay.Close()
		if err := conn.Drain(); err != nil {
			log.Warn("nats drain", log.ErrorField(err))
		}
	}, nil
}

func createCertProvider() *certs.Provider {
	var opts []certs.Option
	switch {
	case traefikCerts != "" && traefikCertDomain != "":
		opts = append(opts, certs.WithTraefikStore(traefikCerts, traefikCertDomain))
	case config.TLSCertFile != "" && config.TLSKeyFile != "":
		opts = append(opts, certs.WithKeyPair(config.TLSCertFile, config.TLSKeyFile))
	default:
		return nil
	}
	provider, err := certs.NewProvider(opts...)
	if err != nil {
		log.Fatal("could not load certificate", log.ErrorField(err))
	}
	return provider
}

func setupGoRoutinesDump() {
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGQUIT)
		buf := make([]byte, 1<<20)
		for {
			<-sigs
			stacklen := runtime.Stack(buf, true)
			fmt.Printf("=== received SIGQUIT ===\n*** goroutine dump...\n%s\n*** end\n",
				buf[:stacklen])
		}
	}()
}

func waitForRequiredServices() {
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		timeout = 60 * time.Second
	}

	wg := sync.WaitGroup{}
	errs := make(chan error, 2)
	checkTcp := func(addr string) {
		defer wg.Done()
		if err := utils.WaitForTCP(addr, timeout); err != nil {
			errs <- err
		}
	}

	if config.Store == config.StorePostgres {
		if postgresAddr := utils.ExtractFromDBURL(config.DB); postgresAddr != "" {
			wg.Add(1)
			go checkTcp(postgresAddr)
		}
	}
	if natsAddr := utils.ExtractFromNatsURL(config.NatsURL); natsAddr != "" {
		wg.Add(1)
		go checkTcp(natsAddr)
	}
	log.Debug("Waiting for connection checks to return")
	wg.Wait()
	close(errs)
	if err := errors.Join(collect(errs)...); err != nil {
		log.Fatal("required services not ready", log.ErrorField(err))
	}
	log.Debug("Required services are available")
}

func collect(errs <-chan error) []error {
	var ret []error
	for err := range errs {
		ret = append(ret, err)
	}
	return ret
}
