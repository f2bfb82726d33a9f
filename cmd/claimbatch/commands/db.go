package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meridianbenefits/claimbatch/batch/archive"
	"github.com/meridianbenefits/claimbatch/claims"
)

// DbCmd groups database management commands
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the claimbatch database",
	Long: `Manage the claimbatch database.

Examples:
  claimbatch db migrate           # Apply pending schema migrations
  claimbatch db stats             # Show claim and archive statistics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show claim and archive statistics",
	RunE:  runDbStats,
}

var statsLimitFlag int

func init() {
	dbStatsCmd.Flags().IntVar(&statsLimitFlag, "limit", 10, "Number of recent archived jobs to show")
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// openDatabase migrates as a side effect
	database, err := openDatabase(cfg, "")
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Println("Database is up to date")
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg, "")
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()

	counts, err := claims.NewStore(database).Count(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Claims by status:")
	if len(counts) == 0 {
		fmt.Println("  (none)")
	}
	total := 0
	for status, n := range counts {
		fmt.Printf("  %-12s %d\n", status, n)
		total += n
	}
	fmt.Printf("  %-12s %d\n\n", "total", total)

	jobs, err := archive.NewStore(database).ListJobs(ctx, "", statsLimitFlag)
	if err != nil {
		return err
	}

	fmt.Printf("Recent archived batch jobs (last %d):\n", statsLimitFlag)
	if len(jobs) == 0 {
		fmt.Println("  (none)")
		return nil
	}
	for _, j := range jobs {
		completed := "-"
		if j.CompletedAt != nil {
			completed = j.CompletedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("  %-40s %-10s claims=%d success=%.1f%% approved=%.2f completed=%s\n",
			j.ID, j.Status, j.TotalClaims, j.SuccessRate, j.TotalApprovedAmount, completed)
	}
	return nil
}
