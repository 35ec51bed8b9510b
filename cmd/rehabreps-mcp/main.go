package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/meltforce/rehabreps/internal/mcp"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// rehabreps-mcp serves the MCP tools over stdio for local assistants, reading
// data from a remote RehabReps server.
func main() {
	serverURL := flag.String("server", "", "RehabReps server URL (e.g. https://rehabreps.tail1234.ts.net)")
	apiKey := flag.String("api-key", os.Getenv("REHABREPS_API_KEY"), "API key (default $REHABREPS_API_KEY)")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("rehabreps-mcp", Version)
		return
	}

	// stdout carries the protocol
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *serverURL == "" {
		fmt.Fprintf(os.Stderr, "Usage: rehabreps-mcp -server <URL> [-api-key KEY]\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	s := mcp.New(mcp.NewHTTPClient(*serverURL, *apiKey), Version, log)
	log.Info("serving MCP over stdio", "server", *serverURL)
	if err := server.ServeStdio(s); err != nil {
		log.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
