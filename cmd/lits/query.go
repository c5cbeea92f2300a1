package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/litsearch/internal/catalog"
	"github.com/matsen/litsearch/internal/engine"
)

var (
	queryK         int
	queryFilters   catalog.Filters
	querySummarize bool
)

func init() {
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(similarCmd)

	for _, c := range []*cobra.Command{queryCmd, similarCmd} {
		c.Flags().IntVarP(&queryK, "limit", "k", 0, "Maximum number of results (default from config)")
		c.Flags().IntVar(&queryFilters.YearMin, "year-min", 0, "Only records published in or after this year")
		c.Flags().IntVar(&queryFilters.YearMax, "year-max", 0, "Only records published in or before this year")
		c.Flags().StringVar(&queryFilters.Author, "author", "", "Only records with an author matching this text")
		c.Flags().StringVar(&queryFilters.Source, "source", "", "Only records whose journal matches this text")
		c.Flags().IntVar(&queryFilters.MinCitations, "min-citations", 0, "Only records cited at least this often")
	}
	queryCmd.Flags().BoolVar(&querySummarize, "summarize", false, "Add a short text summary of the results")
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Find the articles most similar to a natural-language query",
	Long: `Embed the query and return the most similar articles from the active
index snapshot, ranked by similarity.

Duplicate articles (same DOI, or same title and year) are collapsed.
Requires an index built with 'lits index build'.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(args[0])
	if text == "" {
		return &exitError{code: ExitError, err: fmt.Errorf("search query cannot be empty")}
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireIndex(); err != nil {
		return err
	}

	results, err := a.engine.Query(cmd.Context(), text, queryK, queryFilters)
	if err != nil {
		return err
	}

	resp := QueryResponse{
		Query:   text,
		Results: nonNil(results),
		Total:   len(results),
		Model:   a.engine.Stats().ModelVersion,
	}
	if querySummarize {
		resp.Summary = engine.Summarize(text, results)
	}

	if !humanOutput {
		return outputJSON(resp)
	}
	if len(results) == 0 {
		fmt.Println(engine.NoResultsMessage)
		return nil
	}
	printResultsHuman(results)
	if querySummarize {
		fmt.Println(resp.Summary)
	}
	return nil
}

var similarCmd = &cobra.Command{
	Use:   "similar <record-id>",
	Short: "Find articles similar to an indexed article",
	Long: `Find articles whose embeddings are closest to the given record's.
The record itself is excluded from results.

Requires an index built with 'lits index build'.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func runSimilar(cmd *cobra.Command, args []string) error {
	id := args[0]

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireIndex(); err != nil {
		return err
	}

	results, err := a.engine.Similar(cmd.Context(), id, queryK, queryFilters)
	if err != nil {
		return fmt.Errorf("finding records similar to %s: %w", id, err)
	}

	if !humanOutput {
		return outputJSON(QueryResponse{
			Source:  id,
			Results: nonNil(results),
			Total:   len(results),
			Model:   a.engine.Stats().ModelVersion,
		})
	}
	if rec, err := a.db.GetRecord(cmd.Context(), id); err == nil {
		fmt.Printf("Similar to: %s\n\n", truncateString(rec.Title, ResultTitleMaxLen))
	}
	printResultsHuman(results)
	return nil
}

func nonNil(results []engine.QueryResult) []engine.QueryResult {
	if results == nil {
		return []engine.QueryResult{}
	}
	return results
}
