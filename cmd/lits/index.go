package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/matsen/litsearch/internal/artifact"
	"github.com/matsen/litsearch/internal/builder"
	"github.com/matsen/litsearch/internal/engine"
)

var (
	noProgress bool
	buildMode  string
)

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexCheckCmd)
	indexCmd.AddCommand(indexStatsCmd)

	indexBuildCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Suppress progress output")
	indexBuildCmd.Flags().StringVar(&buildMode, "mode", "incremental", "Build mode: full or incremental")
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the vector index",
	Long:  `Commands for building, checking and describing the vector index.`,
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build or update the vector index",
	Long: `Build the vector index from the record database and publish it as a new
snapshot.

An incremental build (the default) embeds only records changed since the
last snapshot and drops deleted ones. A full build re-embeds everything;
an interrupted full build resumes from its checkpoint.

With the ollama provider, Ollama must be running with the embedding model
available. Run 'ollama pull all-minilm:l6-v2' to download the default model.`,
	RunE: runIndexBuild,
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	mode, err := builder.ParseMode(buildMode)
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	if err := checkEmbedder(ctx, cfg); err != nil {
		return err
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	showProgress := humanOutput && !noProgress
	if showProgress {
		a.builder.SetProgressReporter(builder.ProgressFunc(printProgress))
		fmt.Fprintf(os.Stderr, "Building index (%s)...\n", mode)
	}

	stats, err := a.engine.Rebuild(ctx, mode)
	if showProgress {
		fmt.Fprintf(os.Stderr, "\r%50s\r", "")
	}
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}

	if !humanOutput {
		return outputJSON(stats)
	}
	fmt.Printf("\nBuild complete (%s):\n", stats.Mode)
	fmt.Printf("  Snapshot: %s\n", stats.SnapshotID)
	fmt.Printf("  Records seen: %d\n", stats.RecordsSeen)
	fmt.Printf("  Embedded: %d\n", stats.Indexed)
	if stats.Resumed > 0 {
		fmt.Printf("  Reused from checkpoint: %d\n", stats.Resumed)
	}
	fmt.Printf("  Metadata-only updates: %d\n", stats.Updated)
	fmt.Printf("  Deleted: %d\n", stats.Deleted)
	fmt.Printf("  Skipped (no text): %d\n", stats.Skipped)
	if stats.FailedBatches > 0 {
		fmt.Printf("  Failed batches: %d of %d (retried on the next incremental build)\n", stats.FailedBatches, stats.Batches)
	}
	fmt.Printf("  Index size: %d\n", stats.IndexSize)
	fmt.Printf("  Time elapsed: %s\n", formatDuration(stats.Duration))
	printYearHistogram(stats.ByYear)
	return nil
}

func printYearHistogram(byYear map[int]int) {
	if len(byYear) == 0 {
		return
	}
	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	slices.Sort(years)

	fmt.Printf("\nRecords by year:\n")
	for _, y := range years {
		fmt.Printf("  %s: %d\n", formatYear(y), byYear[y])
	}
}

// IndexCheckResult is the response for the index check command.
type IndexCheckResult struct {
	Status          string   `json:"status"`
	SnapshotID      string   `json:"snapshot_id,omitempty"`
	Model           string   `json:"model,omitempty"`
	IndexCreated    string   `json:"index_created,omitempty"`
	IndexSizeBytes  int64    `json:"index_size_bytes"`
	RecordsTotal    int      `json:"records_total"`
	RecordsIndexed  int      `json:"records_indexed"`
	PendingChanges  int      `json:"pending_changes"`
	Uncataloged     int      `json:"uncataloged"`
	Unindexed       int      `json:"unindexed"`
	CorruptSnapshot []string `json:"corrupt_snapshots,omitempty"`
	Recommendation  string   `json:"recommendation,omitempty"`
}

var indexCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check vector index health",
	Long: `Verify every snapshot's checksums, check that the active snapshot's
vectors and catalog agree, and report records changed since it was built.`,
	RunE: runIndexCheck,
}

func runIndexCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Verify before openApp, which would silently fall back past corruption.
	result := IndexCheckResult{Status: "healthy"}
	store := artifact.NewStore(cfg.Paths.ArtifactDir, artifact.WithLogger(logger))
	ids, err := store.List()
	if err != nil {
		return fmt.Errorf("listing snapshots: %w", err)
	}
	for _, id := range ids {
		if _, err := store.Verify(id); err != nil {
			var corrupt *artifact.CorruptArtifactError
			if !errors.As(err, &corrupt) {
				return err
			}
			result.CorruptSnapshot = append(result.CorruptSnapshot, id)
		}
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if result.RecordsTotal, err = a.db.Count(ctx); err != nil {
		return fmt.Errorf("counting records: %w", err)
	}

	snap := a.engine.Active()
	exitCode := ExitSuccess
	switch {
	case snap == nil && len(result.CorruptSnapshot) > 0:
		result.Status = "corrupt"
		result.Recommendation = "Run 'lits index build --mode full' to rebuild the index"
		exitCode = ExitCorruptIndex
	case snap == nil:
		current, _ := store.Current()
		if current != "" {
			result.Status = "stale"
			result.Recommendation = "The index was built with another embedding model; run 'lits index build --mode full'"
			exitCode = ExitIndexStale
		} else {
			result.Status = "missing"
			result.Recommendation = "Run 'lits index build' to create the index"
			exitCode = ExitNoIndex
		}
	default:
		m := snap.Manifest
		result.SnapshotID = m.SnapshotID
		result.Model = m.ModelVersion
		result.IndexCreated = m.BuildTimestamp.Format(time.RFC3339)
		result.IndexSizeBytes = m.Vectors.Size + m.Catalog.Size
		result.RecordsIndexed = snap.Index.Size()

		uncataloged, unindexed := snap.Catalog.Verify(snap.Index)
		result.Uncataloged, result.Unindexed = len(uncataloged), len(unindexed)

		changes, err := a.db.Changes(ctx, m.Watermark)
		if err != nil {
			return fmt.Errorf("reading changes: %w", err)
		}
		result.PendingChanges = len(changes.Upserted) + len(changes.Removed)

		switch {
		case result.Uncataloged > 0 || result.Unindexed > 0:
			result.Status = "inconsistent"
			result.Recommendation = "Run 'lits index build --mode full' to rebuild the index"
			exitCode = ExitCorruptIndex
		case result.PendingChanges > 0:
			result.Status = "stale"
			result.Recommendation = "Run 'lits index build' to update the index"
			exitCode = ExitIndexStale
		case len(result.CorruptSnapshot) > 0:
			result.Status = "degraded"
			result.Recommendation = "Some older snapshots are corrupt and cannot serve as a fallback"
		}
	}

	if humanOutput {
		fmt.Printf("Index Status: %s\n\n", result.Status)
		fmt.Printf("Records:\n")
		fmt.Printf("  Total in database: %d\n", result.RecordsTotal)
		fmt.Printf("  In index: %d\n", result.RecordsIndexed)
		fmt.Printf("  Changed since build: %d\n", result.PendingChanges)
		if result.SnapshotID != "" {
			fmt.Printf("\nSnapshot:\n")
			fmt.Printf("  ID: %s\n", result.SnapshotID)
			fmt.Printf("  Model: %s\n", result.Model)
			fmt.Printf("  Created: %s\n", result.IndexCreated)
			fmt.Printf("  Size: %s\n", formatBytes(result.IndexSizeBytes))
		}
		if len(result.CorruptSnapshot) > 0 {
			fmt.Printf("\nCorrupt snapshots: %s\n", formatIDList(result.CorruptSnapshot))
		}
		if result.Recommendation != "" {
			fmt.Printf("\n%s\n", result.Recommendation)
		}
	} else {
		outputJSON(result)
	}

	if exitCode != ExitSuccess {
		a.Close()
		logCleanup()
		os.Exit(exitCode)
	}
	return nil
}

// IndexStatsResult is the response for the index stats command.
type IndexStatsResult struct {
	engine.Stats
	Records int         `json:"records"`
	ByYear  map[int]int `json:"by_year,omitempty"`
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Describe the active index snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		result := IndexStatsResult{Stats: a.engine.Stats()}
		if result.Records, err = a.db.Count(cmd.Context()); err != nil {
			return fmt.Errorf("counting records: %w", err)
		}
		if snap := a.engine.Active(); snap != nil {
			result.ByYear = snap.Catalog.ByYear()
		}

		if !humanOutput {
			return outputJSON(result)
		}
		s := result.Stats
		if s.SnapshotID == "" {
			fmt.Printf("No index snapshot (%d records in database)\n", result.Records)
			return nil
		}
		fmt.Printf("Snapshot: %s\n", s.SnapshotID)
		fmt.Printf("  Built: %s\n", s.LastBuildTime.Format("2006-01-02 15:04:05"))
		fmt.Printf("  Model: %s (%d dimensions)\n", s.ModelVersion, s.Dimensions)
		fmt.Printf("  Backend: %s, metric %s\n", s.Backend, s.Metric)
		fmt.Printf("  Vectors: %d of %d records\n", s.IndexSize, result.Records)
		printYearHistogram(result.ByYear)
		return nil
	},
}
