package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/meltforce/rehabreps/internal/exercise"
	"github.com/meltforce/rehabreps/internal/journal"
	"github.com/meltforce/rehabreps/internal/remote"
	"github.com/meltforce/rehabreps/internal/replay"
	"github.com/meltforce/rehabreps/internal/session"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	exerciseName := flag.String("exercise", "", "exercise to count (see the catalog)")
	side := flag.String("side", "", "side to track: left, right or both (default both for bilateral exercises)")
	reps := flag.Int("reps", 0, "target reps per set (0 uses the default)")
	sets := flag.Int("sets", 0, "number of sets (0 uses the default)")
	rest := flag.Int("rest", -1, "rest between sets in seconds (-1 uses the exercise default)")
	countdown := flag.Int("countdown", -1, "countdown before the first set in seconds (-1 uses the default)")
	minScore := flag.Float64("min-score", 0, "minimum landmark confidence (0 uses the default)")
	catalogPath := flag.String("catalog", "", "exercise catalog YAML (default built-in)")
	serverURL := flag.String("server", "", "RehabReps server URL; when set, frames are counted by the server")
	apiKey := flag.String("api-key", os.Getenv("REHABREPS_API_KEY"), "API key for -server (default $REHABREPS_API_KEY)")
	stateDir := flag.String("state-dir", "", "directory for the replay journal (default ~/.rehabreps-replay)")
	force := flag.Bool("force", false, "replay recordings the journal already holds")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("rehabreps-replay", Version)
		return
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *exerciseName == "" || flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Usage: rehabreps-replay -exercise <name> [-server <URL>] [flags] <recording.jsonl[.gz]>...\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	var catalog *exercise.Catalog
	var err error
	if *catalogPath != "" {
		catalog, err = exercise.LoadFile(*catalogPath)
	} else {
		catalog, err = exercise.Builtin()
	}
	if err != nil {
		log.Error("failed to load exercise catalog", "path", *catalogPath, "error", err)
		os.Exit(1)
	}
	def, err := catalog.Get(*exerciseName)
	if err != nil {
		log.Error("unknown exercise", "exercise", *exerciseName, "error", err)
		os.Exit(1)
	}

	cfg := session.Config{
		Side:       session.Mode(*side),
		TargetReps: *reps,
		TargetSets: *sets,
		MinScore:   *minScore,
	}
	if *rest >= 0 {
		cfg.RestSeconds = session.Seconds(*rest)
	}
	if *countdown >= 0 {
		cfg.CountdownSeconds = session.Seconds(*countdown)
	}

	// Open the journal
	if *stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Error("failed to get home directory", "error", err)
			os.Exit(1)
		}
		*stateDir = filepath.Join(homeDir, ".rehabreps-replay")
	}
	j, err := journal.Open(*stateDir)
	if err != nil {
		log.Error("failed to open journal", "error", err)
		os.Exit(1)
	}
	defer j.Close()

	var client *remote.Client
	if *serverURL != "" {
		if *apiKey == "" {
			fmt.Fprintf(os.Stderr, "Error: -api-key (or REHABREPS_API_KEY) is required with -server\n")
			os.Exit(1)
		}
		client = remote.NewClient(strings.TrimRight(*serverURL, "/"), *apiKey)
		log.Info("counting on server", "server", *serverURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := replay.NewReplayer(j, def, cfg, client, replay.NewTerminal(os.Stdout), *force, log)
	stats, err := r.Run(ctx, flag.Args())
	printStats(stats)
	if err != nil {
		log.Error("replay interrupted", "error", err)
		os.Exit(1)
	}
	if stats.Errored > 0 {
		os.Exit(1)
	}
}

func printStats(stats *replay.Stats) {
	fmt.Println()
	fmt.Println("=== Replay Summary ===")
	fmt.Printf("  Files total:      %d\n", stats.Files)
	fmt.Printf("  Files replayed:   %d\n", stats.Replayed)
	fmt.Printf("  Files skipped:    %d (already replayed)\n", stats.Skipped)
	fmt.Printf("  Files errored:    %d\n", stats.Errored)
	fmt.Println()
	fmt.Printf("  Reps counted:     %d\n", stats.RepsCounted)
	fmt.Println()
}
