package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arkivehq/arkive"
	"github.com/arkivehq/arkive/clientcli"
)

var (
	archiveTags        []string
	archivePolicy      string
	archiveParallelism int
)

var archiveCmd = &cobra.Command{
	Use:   "archive <local-path>",
	Short: "Upload a file or directory as an archive",
	Long: `Upload a file or directory as one archive.

Single files are uploaded as-is; directories are packaged into a zip
container preserving relative paths. Payloads above the server's threshold
are split into parts and uploaded in parallel.

Examples:
  arkive-cli archive ./report.pdf
  arkive-cli archive ./site-backup --tags backups,site --policy legal-hold`,
	Args: cobra.ExactArgs(1),
	RunE: runArchive,
}

func init() {
	archiveCmd.Flags().StringSliceVarP(&archiveTags, "tags", "t", nil, "tags to attach to the archive record")
	archiveCmd.Flags().StringVar(&archivePolicy, "policy", "", "retention policy: standard, legal-hold, temporary")
	archiveCmd.Flags().IntVar(&archiveParallelism, "parallelism", 4, "concurrent part uploads")
}

func runArchive(cmd *cobra.Command, args []string) error {
	opts := []clientcli.Option{clientcli.WithParallelism(archiveParallelism)}
	if !quiet {
		opts = append(opts, clientcli.WithProgress(printProgress))
	}

	client, err := getClient(opts...)
	if err != nil {
		return err
	}

	rec, err := client.Archive(cmd.Context(), clientcli.ArchiveOptions{
		LocalPath: args[0],
		Tags:      archiveTags,
		Policy:    archivePolicy,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "archive failed: %v\n", err)
		return err
	}

	if !quiet {
		fmt.Println()
	}
	fmt.Printf("archived %s\n", rec.Filename)
	fmt.Printf("  file id:     %s\n", rec.FileID)
	fmt.Printf("  size:        %d bytes\n", rec.Size)
	fmt.Printf("  fingerprint: %s\n", rec.Fingerprint)
	fmt.Printf("  policy:      %s\n", rec.Policy)
	return nil
}

func printProgress(p arkive.Progress) {
	fmt.Printf("\rparts %d/%d (%d/%d bytes)", p.PartsCompleted, p.PartsTotal, p.BytesCompleted, p.BytesTotal)
}
