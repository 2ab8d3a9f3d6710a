package settings

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"relaydb/src/helpers"
)

type Arguments struct {
	// The file path to the collection data files
	DataDir string

	// Directory for the append-only write journal
	JournalDir string

	LogDir string

	ConfigFile string

	// the host name or IP address to listen on
	Host string

	// the port number to listen on
	Port int

	// Maximum size of journal files in bytes before rotation
	MaxJournalFileSize int64

	// Number of collections kept decoded in memory (LRU)
	CollectionCacheSize int

	// Size of the worker pool used for sibling join resolution
	JoinWorkers int

	// Per-request deadline for query execution
	RequestTimeout time.Duration

	// Strongly verbose logging
	Verbose bool

	Debug bool

	Version string
}

var (
	instance *Arguments
	once     sync.Once
)

// GetSettings returns the process-wide settings instance.
func GetSettings() *Arguments {
	once.Do(func() {
		instance = &Arguments{
			DataDir:             "./datafiles",
			JournalDir:          "./journal",
			Host:                "127.0.0.1",
			Port:                4180,
			MaxJournalFileSize:  1000000,
			CollectionCacheSize: 64,
			JoinWorkers:         8,
			RequestTimeout:      15 * time.Second,
			Version:             "0.1.0",
		}
	})
	return instance
}

// LoadEnvironment reads a .env file if present and applies RELAYDB_* overrides.
// Flags parsed afterwards still take precedence over defaults, matching the
// startup order in main.
func LoadEnvironment(args *Arguments) {
	// Missing .env is fine, the file is a development convenience
	_ = godotenv.Load()

	// Values exported from shell profiles sometimes arrive quoted.
	if v := helpers.StripQuotes(os.Getenv("RELAYDB_DATA_DIR")); v != "" {
		args.DataDir = v
	}
	if v := helpers.StripQuotes(os.Getenv("RELAYDB_JOURNAL_DIR")); v != "" {
		args.JournalDir = v
	}
	if v := helpers.StripQuotes(os.Getenv("RELAYDB_HOST")); v != "" {
		args.Host = v
	}
	if v := os.Getenv("RELAYDB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			args.Port = port
		}
	}
	if v := os.Getenv("RELAYDB_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			args.RequestTimeout = d
		}
	}
}
