package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/halvard/knightshift/internal/uci"
)

// enginecheck spawns the configured engine, runs the handshake and a short
// search from the start position, and prints what it learned.
func main() {
	binary := os.Getenv("ENGINE_PATH")
	if binary == "" {
		log.Fatal("ENGINE_PATH is required")
	}
	threads := 1
	if v := os.Getenv("ENGINE_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			threads = n
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	proc, err := uci.NewProcess(ctx, binary, uci.Options{Threads: threads, HashMB: 64})
	if err != nil {
		log.Fatalf("engine start error: %v", err)
	}
	defer proc.Stop(context.Background())

	id := proc.Identity()
	fmt.Printf("engine:  %s\n", id.Name)
	fmt.Printf("author:  %s\n", id.Author)
	fmt.Printf("options: %d declared\n", len(id.Options))

	if err := proc.NewGame(ctx); err != nil {
		log.Fatalf("new game error: %v", err)
	}

	result, err := proc.Search(ctx, uci.SearchRequest{
		Go: uci.CmdGo{MoveTime: 500 * time.Millisecond},
	})
	if err != nil {
		log.Fatalf("search error: %v", err)
	}
	fmt.Printf("bestmove: %s", result.BestMove)
	if result.Ponder != "" {
		fmt.Printf(" (ponder %s)", result.Ponder)
	}
	fmt.Println()
	if result.Score != nil {
		fmt.Printf("score:    %s\n", result.Score)
	}
	fmt.Printf("depth:    %d in %s\n", result.Depth, result.Elapsed.Round(time.Millisecond))
}
