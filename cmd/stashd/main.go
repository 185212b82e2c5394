// Stashd is a standalone file exchange server speaking an HTTP-like
// wire protocol with custom verbs.
//
// It serves and accepts files over plain or TLS-wrapped TCP, with
// optional Basic authentication, a sandbox mode that confines file
// operations to the upload directory, and a covert mode that
// randomizes the verb vocabulary and strips identifying headers.
//
// Usage:
//
//	stashd serve [flags]
//
// See 'stashd serve --help' for available options.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quietlane/stashd/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stashd",
	Short: "File exchange server with a custom wire protocol",
	Long: `Stashd serves and accepts files over a custom HTTP-like protocol.

Beyond plain file reads it speaks non-standard verbs for upload (NONE),
download (FETCH), metadata (INFO), health (PING) and one-shot HTML
bundle generation (SMUGGLE). Covert mode replaces the verb vocabulary
with randomized aliases written to a side file and masks every
identifying response header.

Note: for encoding and decoding covert payloads offline, use the
separate 'stashd-crypt' utility.`,
	Version: version.Version,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
