package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/donorhub/segmentd/internal/core/config"
	"github.com/donorhub/segmentd/internal/core/db"
	"github.com/donorhub/segmentd/internal/rules"
	"github.com/donorhub/segmentd/internal/segments"
	"github.com/donorhub/segmentd/internal/suggest"
	"github.com/donorhub/segmentd/internal/types"
)

var recalculateCmd = &cobra.Command{
	Use:   "recalculate",
	Short: "Recalculate dynamic segment membership",
	Long: `Recalculate one dynamic segment (--segment) or every dynamic segment of
the organization, printing the new count and membership changes.`,
	Args: cobra.NoArgs,
	RunE: runRecalculate,
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Cluster donors and replace pending segment suggestions",
	Args:  cobra.NoArgs,
	RunE:  runSuggest,
}

func init() {
	recalculateCmd.Flags().String("org", "", "organization id")
	recalculateCmd.Flags().String("segment", "", "segment id (default: all dynamic segments)")
	rootCmd.AddCommand(recalculateCmd)

	suggestCmd.Flags().String("org", "", "organization id")
	suggestCmd.Flags().Bool("json", false, "print suggestions as JSON")
	rootCmd.AddCommand(suggestCmd)
}

func newSegmentService(queries *db.Queries) (*segments.Service, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return segments.NewService(
		db.NewDonorStore(queries),
		db.NewSegmentStore(queries),
		db.NewSuggestionStore(queries),
		rules.NewEngine(nil),
		segments.Options{
			MaxConditions:     cfg.MaxConditions,
			RecalcConcurrency: cfg.RecalcConcurrency,
			Logger:            slog.Default(),
		},
	)
}

func runRecalculate(cmd *cobra.Command, args []string) error {
	org, err := organizationFlag(cmd)
	if err != nil {
		return err
	}
	database, queries, err := openMigrated()
	if err != nil {
		return err
	}
	defer database.Close()

	svc, err := newSegmentService(queries)
	if err != nil {
		return err
	}

	var results []segments.RecalcResult
	if raw, _ := cmd.Flags().GetString("segment"); raw != "" {
		id, err := types.ParseSegmentID(raw)
		if err != nil {
			return fmt.Errorf("invalid --segment: %w", err)
		}
		res, err := svc.Recalculate(cmd.Context(), org, id)
		if err != nil {
			return err
		}
		results = append(results, *res)
	} else {
		results, err = svc.RecalculateAll(cmd.Context(), org)
		if err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEGMENT\tCOUNT\tENTERED\tEXITED\tDROPPED\tERROR")
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\t%v\n", r.SegmentID, r.Err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t\n", r.SegmentID, r.Count, len(r.Entered), len(r.Exited), len(r.Dropped))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d segments failed to recalculate", failed, len(results))
	}
	return nil
}

func runSuggest(cmd *cobra.Command, args []string) error {
	org, err := organizationFlag(cmd)
	if err != nil {
		return err
	}
	database, queries, err := openMigrated()
	if err != nil {
		return err
	}
	defer database.Close()

	gen := suggest.NewGenerator(db.NewDonorStore(queries), db.NewSuggestionStore(queries), nil, slog.Default())
	out, err := gen.Generate(cmd.Context(), org)
	if err != nil {
		return fmt.Errorf("generate suggestions: %w", err)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if out == nil {
			out = []types.Suggestion{}
		}
		return enc.Encode(out)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SUGGESTION\tNAME\tDONORS\tCONFIDENCE")
	for _, sg := range out {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\n", sg.ID, sg.Name, sg.DonorCount, sg.Confidence)
	}
	return w.Flush()
}
