package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.AddCommand(recordGetCmd)
	recordCmd.AddCommand(recordDeleteCmd)
	recordCmd.AddCommand(recordCiteCmd)
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Inspect and edit records in the record database",
}

var recordGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openRecordDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		rec, err := db.GetRecord(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !humanOutput {
			return outputJSON(rec)
		}
		fmt.Printf("%s\n", rec.ID)
		fmt.Printf("  Title: %s\n", wrapText(rec.Title, TextWrapWidth, "         "))
		fmt.Printf("  Authors: %s\n", strings.Join(rec.AuthorNames(), ", "))
		fmt.Printf("  Year: %s\n", formatYear(rec.Year))
		if rec.SourceTitle != "" {
			fmt.Printf("  Source: %s\n", rec.SourceTitle)
		}
		if rec.DOI != "" {
			fmt.Printf("  DOI: %s\n", rec.DOI)
		}
		fmt.Printf("  Citations: %d\n", rec.CitationCount)
		if rec.Abstract != "" {
			fmt.Printf("\n  %s\n", wrapText(rec.Abstract, TextWrapWidth, "  "))
		}
		return nil
	},
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete records; the next incremental build drops them from the index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openRecordDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		for _, id := range args {
			if err := db.DeleteRecord(cmd.Context(), id); err != nil {
				return fmt.Errorf("deleting %s: %w", id, err)
			}
		}
		if humanOutput {
			fmt.Printf("Deleted %d records\n", len(args))
			return nil
		}
		return outputJSON(map[string]any{"status": "deleted", "ids": args})
	},
}

var recordCiteCmd = &cobra.Command{
	Use:   "cite <id> <count>",
	Short: "Set a record's citation count",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := strconv.Atoi(args[1])
		if err != nil || count < 0 {
			return &exitError{code: ExitDataError, err: fmt.Errorf("citation count must be a non-negative integer, got %q", args[1])}
		}

		db, err := openRecordDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.SetCitationCount(cmd.Context(), args[0], count); err != nil {
			return err
		}
		if humanOutput {
			fmt.Printf("%s: %d citations\n", args[0], count)
			return nil
		}
		return outputJSON(map[string]any{"status": "updated", "id": args[0], "citation_count": count})
	},
}
