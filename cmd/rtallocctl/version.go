package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// VersionInfo is the JSON form of the version command.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Built   string `json:"built"`
}

func init() {
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := VersionInfo{Version: rootCmd.Version, Commit: commit, Built: date}
			if jsonOut {
				return printJSON(info)
			}
			fmt.Fprintf(stdout, "%s %s (commit %s, built %s)\n",
				rootCmd.Name(), info.Version, info.Commit, info.Built)
			return nil
		},
	})
}
