package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/scenedex/internal/output"
	"github.com/Aman-CERP/scenedex/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit     int
	format    string // "text", "json"
	character string
	location  string
	timeOfDay string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed scenes",
		Long: `Search indexed scenes with hybrid retrieval.

Combines full-text matching with semantic similarity; scenes matching both
passes rank highest. Filters narrow results by extracted metadata and the
scene heading.

Examples:
  scenedex search "confrontation in the warehouse"
  scenedex search "sarah finds the ledger" --character SARAH
  scenedex search "night exterior" --time NIGHT --limit 5
  scenedex search "interrogation" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringVarP(&opts.character, "character", "c", "", "Only scenes featuring this character")
	cmd.Flags().StringVarP(&opts.location, "location", "l", "", "Only scenes whose heading location contains this value")
	cmd.Flags().StringVarP(&opts.timeOfDay, "time", "t", "", "Only scenes with this heading time qualifier (e.g. NIGHT)")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	out := output.New(cmd.OutOrStdout())

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.engine.Search(cmd.Context(), query, search.Options{
		Limit: opts.limit,
		Filters: search.Filters{
			Character: opts.character,
			Location:  opts.location,
			TimeOfDay: opts.timeOfDay,
		},
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if opts.format == "json" {
		return formatJSON(cmd, resp)
	}
	return formatText(out, query, resp)
}

// formatText outputs results in human-readable format.
func formatText(out *output.Writer, query string, resp *search.Response) error {
	if resp.Degraded {
		out.Warning("semantic pass unavailable; results are keyword-only")
	}
	if len(resp.Results) == 0 {
		out.Statusf("", "No scenes found for %q", query)
		return nil
	}

	out.Statusf("🔍", "Found %d scenes for %q:", len(resp.Results), query)
	out.Newline()

	for i, r := range resp.Results {
		out.Statusf("", "%d. %s — %s (scene %d, score: %.2f)",
			i+1, r.Heading.Raw, r.DocumentPath, r.Ordinal+1, r.Score)
		if r.Snippet != "" {
			out.Status("", "   "+r.Snippet)
		}
		out.Newline()
	}
	return nil
}

// formatJSON outputs results as a JSON array.
func formatJSON(cmd *cobra.Command, resp *search.Response) error {
	type jsonResult struct {
		ContentHash  string          `json:"content_hash"`
		Heading      string          `json:"heading"`
		DocumentPath string          `json:"document_path"`
		Ordinal      int             `json:"ordinal"`
		Score        float64         `json:"score"`
		InBoth       bool            `json:"in_both,omitempty"`
		Snippet      string          `json:"snippet,omitempty"`
		Metadata     json.RawMessage `json:"metadata,omitempty"`
	}

	results := make([]jsonResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		jr := jsonResult{
			ContentHash:  r.ContentHash,
			Heading:      r.Heading.Raw,
			DocumentPath: r.DocumentPath,
			Ordinal:      r.Ordinal,
			Score:        r.Score,
			InBoth:       r.InBoth,
			Snippet:      r.Snippet,
		}
		if len(r.Metadata) > 0 {
			if raw, err := json.Marshal(r.Metadata); err == nil {
				jr.Metadata = raw
			}
		}
		results = append(results, jr)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Results  []jsonResult `json:"results"`
		Degraded bool         `json:"degraded,omitempty"`
	}{results, resp.Degraded})
}
