package config

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	DB                 string   // connection string for the database
	Store              string   // store backend (memory, postgres, sqlite)
	SQLiteFile         string   // file used by the sqlite store
	FeedURL            string   // base URL of the remote race feed
	FeedTimeout        string   // timeout for a single feed request
	Count              int      // number of races presented to clients
	Categories         []string // initially selected categories (empty means all)
	Addr               string   // listen addr for the http server
	TLSCertFile        string   // path to TLS certificate
	TLSKeyFile         string   // path to TLS key
	NatsURL            string   // URL of the NATS server (relay disabled if empty)
	NatsSubject        string   // subject prefix used by the NATS relay
	NatsBucket         string   // key value bucket for the latest races (disabled if empty)
	WaitForServices    string   // duration to wait for other services to be ready
	LogLevel           string   // sets the log level (zap log level values)
	SQLLogLevel        string   // sets the log level for sql subsystem
	LogFormat          string   // text vs json
	LogFilter          string   // zapfilter rules applied to the log output
	MigrationSourceURL string   // location of migration files (embedded if empty)
	EnableTelemetry    bool     // enable telemetry
	TelemetryEndpoint  string   // endpoint for telemetry
	ProfilingPort      int      // port for profiling
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)
