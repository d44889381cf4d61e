package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <file-id>",
	Short: "Show an archive record and its download URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	fileID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid file id: %w", err)
	}

	client, err := getClient()
	if err != nil {
		return err
	}

	rec, downloadURL, err := client.GetArchive(cmd.Context(), fileID)
	if err != nil {
		return err
	}

	fmt.Printf("file id:      %s\n", rec.FileID)
	fmt.Printf("filename:     %s\n", rec.Filename)
	fmt.Printf("size:         %d bytes\n", rec.Size)
	fmt.Printf("content type: %s\n", rec.ContentType)
	fmt.Printf("status:       %s\n", rec.Status)
	fmt.Printf("policy:       %s\n", rec.Policy)
	if len(rec.Tags) > 0 {
		fmt.Printf("tags:         %s\n", strings.Join(rec.Tags, ", "))
	}
	fmt.Printf("fingerprint:  %s\n", rec.Fingerprint)
	fmt.Printf("archived at:  %s\n", rec.ArchivedAt)
	fmt.Printf("download url: %s\n", downloadURL)
	return nil
}
