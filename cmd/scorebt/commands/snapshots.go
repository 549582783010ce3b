package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/scorebt/internal/data/repos"
	"github.com/wonny/scorebt/internal/runner"
	"github.com/wonny/scorebt/internal/selection"
	"github.com/wonny/scorebt/internal/snapshot"
	"github.com/wonny/scorebt/pkg/database"
)

// snapshotsCmd groups snapshot utilities
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect and store score snapshots",
}

var (
	snapshotsInspectCmd = &cobra.Command{
		Use:   "inspect",
		Short: "Show how many snapshots reach the breadth threshold",
		Long: `Prints the eligibility report of a snapshot set: total snapshots,
eligible snapshots, the eligible date range and the widest snapshot.
With --date the ranking of that snapshot is printed as well.

Example:
  go run ./cmd/scorebt snapshots inspect --snapshots snapshots.json
  go run ./cmd/scorebt snapshots inspect --snapshots snapshots.json --min-breadth 300 --date 2024-01-02`,
		RunE: runSnapshotsInspect,
	}

	snapshotsImportCmd = &cobra.Command{
		Use:   "import",
		Short: "Store a snapshot file in Postgres",
		Long: `Replaces the stored snapshots of every date in the file.

Example:
  go run ./cmd/scorebt snapshots import --snapshots snapshots.json`,
		RunE: runSnapshotsImport,
	}

	inspectDate string
)

func init() {
	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.AddCommand(snapshotsInspectCmd)
	snapshotsCmd.AddCommand(snapshotsImportCmd)

	snapshotsInspectCmd.Flags().StringVar(&btSnapshots, "snapshots", "", "snapshot JSON file (default SNAPSHOT_FILE, else Postgres)")
	snapshotsInspectCmd.Flags().IntVar(&btMinBreadth, "min-breadth", 0, "minimum snapshot size (default MIN_BREADTH)")
	snapshotsInspectCmd.Flags().IntVar(&btTopN, "top-n", 0, "ranking depth for --date (default TOP_N)")
	snapshotsInspectCmd.Flags().StringVar(&inspectDate, "date", "", "print the ranking of this snapshot (YYYY-MM-DD)")

	snapshotsImportCmd.Flags().StringVar(&btSnapshots, "snapshots", "", "snapshot JSON file")
	snapshotsImportCmd.MarkFlagRequired("snapshots")
}

func runSnapshotsInspect(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if err := applyParameterFlags(cmd, cfg); err != nil {
		return err
	}

	res, err := runner.Open(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer res.Close()

	source, err := res.Snapshots(cfg.SnapshotFile)
	if err != nil {
		return err
	}
	snapshots, err := source.Snapshots(cmd.Context())
	if err != nil {
		return err
	}

	s := snapshot.Summarize(snapshots, cfg.Backtest.MinBreadth)

	PrintHeader("Snapshot Eligibility")
	PrintKeyValue("Snapshots", fmt.Sprint(s.Total), 14)
	PrintKeyValue("Min breadth", fmt.Sprint(s.MinBreadth), 14)
	PrintKeyValue("Eligible", fmt.Sprint(s.Eligible), 14)
	PrintKeyValue("Widest", fmt.Sprint(s.WidestBreadth), 14)
	if s.Eligible > 0 {
		PrintKeyValue("First", s.FirstEligible.Format("2006-01-02"), 14)
		PrintKeyValue("Last", s.LastEligible.Format("2006-01-02"), 14)
		PrintKeyValue("Scored assets", fmt.Sprint(s.Scored), 14)
	} else {
		PrintWarning("No snapshot reaches the breadth threshold")
	}

	if inspectDate == "" {
		return nil
	}

	ranker, err := selection.NewRanker(cfg.Backtest.TopN, log)
	if err != nil {
		return err
	}
	for i := range snapshots {
		if snapshots[i].Day() != inspectDate {
			continue
		}
		fmt.Println()
		fmt.Printf("🏆 Top %d on %s (breadth %d)\n", cfg.Backtest.TopN, inspectDate, snapshots[i].Breadth())
		widths := []int{5, 10, 12}
		PrintTableHeader([]string{"Rank", "Symbol", "Score"}, widths)
		for _, a := range ranker.Rank(&snapshots[i]) {
			PrintTableRow([]string{fmt.Sprint(a.Rank), a.Symbol, fmt.Sprintf("%.4f", a.Score)}, widths)
		}
		return nil
	}
	return fmt.Errorf("no snapshot on %s", inspectDate)
}

func runSnapshotsImport(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	snapshots, err := snapshot.Load(btSnapshots)
	if err != nil {
		return err
	}

	res, err := runner.Open(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer res.Close()
	if res.DB == nil {
		return fmt.Errorf("snapshots import: %w", database.ErrNotConfigured)
	}

	if err := repos.NewSnapshotRepository(res.DB.Pool).Save(cmd.Context(), snapshots); err != nil {
		return err
	}

	PrintSuccess(fmt.Sprintf("Stored %d snapshots", len(snapshots)))
	return nil
}
