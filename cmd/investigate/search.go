package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tracelink-lab/internal/domain/models"
	"tracelink-lab/internal/domain/services"
	"tracelink-lab/internal/sources/searchapi"
)

func searchCmd() *cobra.Command {
	var showProgress bool
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a full investigation for a free-text query",
		Long: `Extract entities from the query, page through the search index for each
primary criterion, then rank, link and analyze the records found.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			var searcher services.RecordSearcher = searchapi.NewClient(cfg.SearchAPI, log)
			if cfg.SearchAPI.BreakerEnabled {
				searcher = searchapi.NewBreakerClient(searcher, cfg.SearchAPI, log)
			}
			svc := services.NewSearchService(cfg, searcher, nil, log)

			var progress models.ProgressFunc
			if showProgress {
				progress = func(ev models.ProgressEvent) {
					fmt.Fprintf(os.Stderr, "[%3d%%] %-10s %s\n", ev.Progress, ev.Stage, ev.Message)
				}
			}

			resp, err := svc.Search(cmd.Context(), strings.Join(args, " "), progress)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			printResponse(cmd.OutOrStdout(), resp, limit)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showProgress, "progress", "p", false, "print progress to stderr")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of ranked results to print")
	return cmd
}

func extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <text>",
		Short: "Show the entities and search plan derived from text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			svc := services.NewSearchService(cfg, nil, nil, log)

			extraction, plan, err := svc.Extract(strings.Join(args, " "))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"extraction": extraction, "plan": plan})
			}
			printExtraction(cmd.OutOrStdout(), extraction, plan)
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printExtraction(w io.Writer, extraction *models.ExtractionResult, plan *models.SearchPlan) {
	fmt.Fprintf(w, "Intent:   %s\nStrategy: %s\n\n", plan.Intent, plan.Strategy)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tVALUE\tCONFIDENCE\tROLE")
	for _, c := range plan.Criteria {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", c.Category, c.Value, c.Confidence, c.Role)
	}
	tw.Flush()

	if len(extraction.Relationships) > 0 {
		fmt.Fprintf(w, "\nRelationships: %d\n", len(extraction.Relationships))
	}
}

func printResponse(w io.Writer, resp *models.SearchResponse, limit int) {
	md := resp.Metadata
	fmt.Fprintf(w, "Session %s (%s, %d ms)\n", resp.SessionID, md.Intent, md.DurationMs)
	fmt.Fprintf(w, "Pages %d, records %d fetched, %d unique, %d exact, %d partial\n",
		md.PagesFetched, md.RecordsFetched, md.UniqueRecords, md.ExactMatches, md.PartialMatches)
	if md.EarlyStopped {
		fmt.Fprintf(w, "Stopped early: %s\n", strings.Join(md.StopReasons, "; "))
	}
	for _, e := range md.APIErrors {
		fmt.Fprintf(w, "API error: %s\n", e)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSCORE\tMATCH\tRECORD")
	for i, r := range resp.RankedResults {
		if limit > 0 && i >= limit {
			break
		}
		fmt.Fprintf(tw, "%d\t%.2f\t%s\t%s\n", i+1, r.Score, r.MatchType, recordLabel(r.Record))
	}
	tw.Flush()

	if len(resp.Insights) > 0 {
		fmt.Fprintln(w, "\nInsights:")
		for _, in := range resp.Insights {
			fmt.Fprintf(w, "  [%.2f] %s\n", in.Confidence, in.Title)
		}
	}
}

// recordLabel prints up to three non-empty field values in key order
func recordLabel(rec models.StoredRecord) string {
	keys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, 0, 3)
	for _, k := range keys {
		if v := strings.TrimSpace(fmt.Sprint(rec.Fields[k])); v != "" && rec.Fields[k] != nil {
			values = append(values, v)
		}
		if len(values) == 3 {
			break
		}
	}
	if len(values) == 0 {
		return rec.Table
	}
	return rec.Table + ": " + strings.Join(values, " | ")
}
