// Command inspect opens a parley database offline and prints its
// contents, for debugging federated deployments without a running server.
package main

import (
	"flag"
	"fmt"
	"os"

	"parley/pkg/logger"
	"parley/pkg/store"
)

func main() {
	var (
		dbPath = flag.String("db", "", "pebble DB path to inspect")
		convs  = flag.Bool("conversations", false, "list conversation summaries")
	)
	flag.Parse()
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}
	logger.Init("warn")

	if err := store.Open(*dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer store.Close()

	users, conversations, messages := store.Counts()
	fmt.Printf("db:            %s\n", *dbPath)
	fmt.Printf("users:         %d\n", users)
	fmt.Printf("conversations: %d\n", conversations)
	fmt.Printf("messages:      %d\n", messages)
	fmt.Printf("generation:    %s\n", store.UserGeneration())
	fmt.Printf("relay cursor:  %s\n", store.RelayCursor())
	if disk, err := store.DiskEstimate(); err == nil {
		fmt.Printf("disk bytes:    %d\n", disk)
	}

	if *convs {
		fmt.Println()
		for _, s := range store.AllConversations() {
			fmt.Printf("%s  %q  owner=%s\n", s.ID, s.Title, s.Owner)
		}
	}
}
