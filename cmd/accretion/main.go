package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	// Import available source connectors to register them
	_ "github.com/ajitpratap0/accretion/pkg/connector/sources/httpapi"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "accretion",
		Short: "Accretion - checkpointed document indexing workers",
		Long: `Accretion pulls documents from external sources (wikis, drives, ticket
systems) and pushes them into a search index in resumable, checkpointed
sweeps. A worker runs the scheduler, dispatcher, and operator API; the
other commands talk to a running worker over its operator API.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Accretion v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newRunCmd())
	root.AddCommand(newConnectorsCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newTriggerCmd())
	root.AddCommand(newResyncCmd())
	root.AddCommand(newCancelCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
