package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meridianbenefits/claimbatch/batch"
	"github.com/meridianbenefits/claimbatch/claims"
	"github.com/meridianbenefits/claimbatch/errors"
)

// ClaimsCmd groups claim staging commands
var ClaimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "Load and inspect staged claims",
	Long: `Load and inspect the claims staging table.

Examples:
  claimbatch claims import claims.json   # Load claims from a JSON file
  claimbatch claims ls                   # List claims
  claimbatch claims ls --status denied   # List denied claims`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var claimsImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Import claims from a JSON file",
	Long:  "Import claims from a JSON array of claim objects into the staging table. Existing claims with the same id are replaced.",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimsImport,
}

var claimsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List staged claims",
	RunE:  runClaimsLs,
}

var claimsStatusFlag string

func init() {
	claimsLsCmd.Flags().StringVar(&claimsStatusFlag, "status", "", "Filter by claim status")
	ClaimsCmd.AddCommand(claimsImportCmd)
	ClaimsCmd.AddCommand(claimsLsCmd)
}

func runClaimsImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", args[0])
	}

	var batchClaims []*batch.Claim
	if err := json.Unmarshal(data, &batchClaims); err != nil {
		return errors.Wrapf(err, "failed to parse %s as a JSON claim array", args[0])
	}

	database, err := openDatabase(cfg, "")
	if err != nil {
		return err
	}
	defer database.Close()

	store := claims.NewStore(database)
	for _, c := range batchClaims {
		if err := store.Put(cmd.Context(), c); err != nil {
			return err
		}
	}

	fmt.Printf("Imported %d claims from %s\n", len(batchClaims), args[0])
	return nil
}

func runClaimsLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg, "")
	if err != nil {
		return err
	}
	defer database.Close()

	store := claims.NewStore(database)
	list, err := store.Query(cmd.Context(), batch.ClaimFilter{Status: claimsStatusFlag})
	if err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Println("No claims found")
		return nil
	}

	fmt.Printf("%-12s %12s %-10s %-12s %-10s %s\n", "ID", "AMOUNT", "FRAUD", "STATUS", "MEMBER", "SERVICE DATE")
	for _, c := range list {
		fmt.Printf("%-12s %12.2f %-10s %-12s %-10s %s\n",
			c.ID, c.Amount, c.FraudRisk, c.Status, c.MemberID, c.ServiceDate.Format("2006-01-02"))
	}
	fmt.Printf("\n%d claims\n", len(list))
	return nil
}
