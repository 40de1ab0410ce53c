package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/donorhub/segmentd/internal/core/auth"
	"github.com/donorhub/segmentd/internal/core/config"
	"github.com/donorhub/segmentd/internal/core/db"
	"github.com/donorhub/segmentd/internal/types"
)

// maxDonorLine bounds one JSONL record.
const maxDonorLine = 1 << 20

var importDonorsCmd = &cobra.Command{
	Use:   "import-donors FILE",
	Short: "Upsert donors from a JSON Lines file (- for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportDonors,
}

var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apiKeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue an API key for an organization",
	Long: `Issue an API key for an organization. The key is printed once and only
its HMAC digest is stored.`,
	Args: cobra.NoArgs,
	RunE: runAPIKeyCreate,
}

func init() {
	importDonorsCmd.Flags().String("org", "", "organization id")
	rootCmd.AddCommand(importDonorsCmd)

	apiKeyCreateCmd.Flags().String("org", "", "organization id")
	apiKeyCreateCmd.Flags().String("name", "", "key name")
	apiKeyCreateCmd.Flags().String("secret-id", "", "HMAC secret id (default: the only configured secret)")
	apiKeyCmd.AddCommand(apiKeyCreateCmd)
	rootCmd.AddCommand(apiKeyCmd)
}

func runImportDonors(cmd *cobra.Command, args []string) error {
	org, err := organizationFlag(cmd)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open %s: %w", args[0], err)
		}
		defer f.Close()
		in = f
	}

	database, queries, err := openMigrated()
	if err != nil {
		return err
	}
	defer database.Close()

	n, err := importDonors(cmd.Context(), db.NewDonorStore(queries), org, in)
	if err != nil {
		return err
	}
	slog.Info("donors imported", "organization_id", org, "count", n)
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d donors\n", n)
	return nil
}

func importDonors(ctx context.Context, store *db.DonorStore, org types.OrganizationID, in io.Reader) (int, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxDonorLine)

	n, line := 0, 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var d types.Donor
		if err := json.Unmarshal([]byte(text), &d); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		if d.ID == "" {
			return n, fmt.Errorf("line %d: donor id is required", line)
		}
		if d.OrganizationID != "" && d.OrganizationID != org {
			return n, fmt.Errorf("line %d: donor %s belongs to %s, not %s", line, d.ID, d.OrganizationID, org)
		}
		d.OrganizationID = org
		if err := store.Upsert(ctx, &d); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("read donors: %w", err)
	}
	return n, nil
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	org, err := organizationFlag(cmd)
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("--name required")
	}

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	secretID, _ := cmd.Flags().GetString("secret-id")
	if secretID == "" {
		if len(secrets) != 1 {
			return fmt.Errorf("--secret-id required when %d HMAC secrets are configured", len(secrets))
		}
		for id := range secrets {
			secretID = id
		}
	}

	database, queries, err := openMigrated()
	if err != nil {
		return err
	}
	defer database.Close()

	key, err := auth.NewAuthenticator(secrets, queries).Issue(cmd.Context(), org, name, secretID)
	if err != nil {
		return fmt.Errorf("issue api key: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), key)
	return nil
}
