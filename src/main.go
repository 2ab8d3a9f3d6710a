package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaydb/src/server"
	"relaydb/src/settings"
)

// printUsage prints helpful usage information
func printUsage() {
	log.Println("RelayDB - a document database with relational joins")
	log.Println("\nUsage:")
	log.Println("  relaydb [options]")
	log.Println("\nOptions:")
	flag.PrintDefaults()

	log.Println("\nExamples:")
	log.Println("  relaydb --datadir=/data")
	log.Println("  relaydb --port=4180 --joinworkers=16")
}

func main() {
	// Get the global settings instance and apply environment overrides
	// before flags so flags win.
	args := settings.GetSettings()
	settings.LoadEnvironment(args)

	flag.StringVar(&args.DataDir, "datadir", args.DataDir, "Directory to store collection data files")
	flag.StringVar(&args.JournalDir, "journaldir", args.JournalDir, "Directory for the write journal")
	flag.StringVar(&args.LogDir, "logdir", args.LogDir, "Directory to store log files (default: stdout)")
	flag.Int64Var(&args.MaxJournalFileSize, "maxjournalfilesize", args.MaxJournalFileSize, "Maximum size of journal files in bytes before rotation")
	flag.StringVar(&args.Host, "host", args.Host, "Host name or IP address to listen on")
	flag.IntVar(&args.Port, "port", args.Port, "Port for the HTTP server")
	flag.IntVar(&args.CollectionCacheSize, "cachesize", args.CollectionCacheSize, "Number of collections kept decoded in memory")
	flag.IntVar(&args.JoinWorkers, "joinworkers", args.JoinWorkers, "Worker pool size for sibling join resolution")
	flag.DurationVar(&args.RequestTimeout, "requesttimeout", args.RequestTimeout, "Per-request deadline for query execution")
	flag.BoolVar(&args.Verbose, "verbose", false, "Enable verbose logging")
	flag.StringVar(&args.ConfigFile, "config", "", "Path to config file")
	flag.BoolVar(&args.Debug, "debug", false, "Enable debug mode")

	flag.Parse()

	if err := validateArguments(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		printUsage()
		os.Exit(1)
	}

	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)

	if args.Verbose {
		log.Println("RelayDB starting with options:")
		log.Printf("  Data Directory: %s\n", args.DataDir)
		log.Printf("  Journal Directory: %s\n", args.JournalDir)
		log.Printf("  Host: %s\n", args.Host)
		log.Printf("  Port: %d\n", args.Port)
		log.Printf("  Join Workers: %d\n", args.JoinWorkers)
		log.Printf("  Request Timeout: %s\n", args.RequestTimeout)
	}

	// Ensure data directory exists
	if err := os.MkdirAll(args.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	srv, err := server.InitServer(args)
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Handle graceful shutdown
	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, syscall.SIGINT, syscall.SIGTERM)

	<-shutdownSignal
	fmt.Println("\nShutting down server...")

	if err := srv.Stop(); err != nil {
		log.Printf("Error stopping server: %v", err)
	}

	fmt.Println("Server shutdown complete")
}

// validateArguments validates the arguments and returns an error if invalid
func validateArguments(args *settings.Arguments) error {
	dirInfo, err := os.Stat(args.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			// Try to create the directory
			err = os.MkdirAll(args.DataDir, 0755)
			if err != nil {
				return fmt.Errorf("could not create data directory: %w", err)
			}
		} else {
			return fmt.Errorf("error accessing data directory: %w", err)
		}
	} else if !dirInfo.IsDir() {
		return fmt.Errorf("data directory path exists but is not a directory: %s", args.DataDir)
	}

	if args.Port < 1 || args.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", args.Port)
	}

	if args.RequestTimeout < time.Millisecond {
		return fmt.Errorf("request timeout too small: %s", args.RequestTimeout)
	}

	if args.ConfigFile != "" {
		if _, err := os.Stat(args.ConfigFile); err != nil {
			return fmt.Errorf("could not access config file: %w", err)
		}
	}

	return nil
}
