// stashd-crypt prepares and opens masked upload envelopes for the
// stashd covert endpoint.
//
// Usage:
//
//	stashd-crypt encode --in report.pdf --pass s3cret > payload.json
//	stashd-crypt decode --in payload.json --out report.pdf
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quietlane/stashd/internal/covert"
	"github.com/quietlane/stashd/internal/version"
)

var (
	inPath     string
	outPath    string
	passphrase string
	fileName   string
)

var rootCmd = &cobra.Command{
	Use:   "stashd-crypt",
	Short: "Envelope codec for stashd covert uploads",
	Long: `stashd-crypt builds and opens the JSON envelopes the stashd covert
upload endpoint accepts. Encoding masks the file content with the
passphrase and attaches an HMAC-SHA256 integrity tag; decoding verifies
the tag before unmasking. With no passphrase the content rides
base64-encoded but unmasked.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Build an envelope from a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if inPath == "" {
			return fmt.Errorf("--in is required")
		}
		data, err := os.ReadFile(inPath)
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		name := fileName
		if name == "" {
			name = filepath.Base(inPath)
		}

		out, err := covert.NewEnvelope(name, data, passphrase).Marshal()
		if err != nil {
			return fmt.Errorf("failed to encode envelope: %w", err)
		}
		return writeOutput(out, 0o600)
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Open an envelope and recover the file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if inPath == "" {
			return fmt.Errorf("--in is required")
		}
		body, err := os.ReadFile(inPath)
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		payload, err := covert.Open(body)
		if err != nil {
			return fmt.Errorf("failed to open envelope: %w", err)
		}
		if !payload.Enveloped {
			fmt.Fprintln(os.Stderr, "warning: input is not an envelope, passing content through")
		}

		target := outPath
		if target == "" && payload.Name != "" {
			target = filepath.Base(payload.Name)
		}
		if target != "" && target != "-" {
			if err := os.WriteFile(target, payload.Data, 0o644); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			fmt.Fprintf(os.Stderr, "wrote %d bytes to %s\n", len(payload.Data), target)
			return nil
		}
		_, err = os.Stdout.Write(payload.Data)
		return err
	},
}

func writeOutput(data []byte, perm os.FileMode) error {
	if outPath == "" || outPath == "-" {
		_, err := os.Stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(outPath, data, perm); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{encodeCmd, decodeCmd} {
		c.Flags().StringVar(&inPath, "in", "", "Input file")
		c.Flags().StringVar(&outPath, "out", "", "Output file ('-' or empty for stdout)")
	}
	encodeCmd.Flags().StringVar(&passphrase, "pass", "", "Masking passphrase (empty for unmasked)")
	encodeCmd.Flags().StringVar(&fileName, "name", "", "Filename to declare (defaults to input basename)")
	rootCmd.AddCommand(encodeCmd, decodeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
