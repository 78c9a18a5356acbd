package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bincheck-api/internal/application/lookup"
	"github.com/bincheck-api/internal/application/sweep"
	"github.com/bincheck-api/internal/config"
	"github.com/bincheck-api/internal/domain"
	"github.com/bincheck-api/internal/infrastructure/binprovider"
	"github.com/bincheck-api/internal/infrastructure/dynamo"
	s3infra "github.com/bincheck-api/internal/infrastructure/s3"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var out string

	root := &cobra.Command{
		Use:          "binctl",
		Short:        "Operator commands for the BIN lookup service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&out, "out", "text", "Output format: json|text")

	emit := func(v any, text string) {
		if out == "json" {
			b, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(b))
			return
		}
		fmt.Println(text)
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete every pending request whose expiry has passed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := sweep.NewService(sweep.ServiceDeps{
				RequestRepo: dynamo.NewRequestRepo(dynamo.NewClient(cfg), cfg.DynamoTables),
			})
			n, err := svc.SweepExpired(cmd.Context())
			emit(map[string]any{"deleted": n, "error": errString(err)}, fmt.Sprintf("deleted=%d", n))
			return err
		},
	}

	lookupCmd := &cobra.Command{
		Use:   "lookup <bin>",
		Short: "Look up a BIN through the cache, filling it on a miss",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := newLookupService(cfg).Lookup(cmd.Context(), "", args[0])
			if err != nil {
				return err
			}
			emit(rec, fmt.Sprintf("%s  %s  %s  %s  %s  %s", rec.BIN, rec.Brand, rec.Type, rec.Level, rec.Bank, rec.Country))
			return nil
		},
	}

	warmCmd := &cobra.Command{
		Use:   "warm",
		Short: "Pre-fill the BIN cache with every entry of the known BIN table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			known, err := readKnown(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			bins := lookup.BINs(known)
			failed := newLookupService(cfg).Warm(cmd.Context(), bins)
			msgs := make(map[string]string, len(failed))
			for bin, ferr := range failed {
				msgs[bin] = ferr.Error()
			}
			emit(map[string]any{"total": len(bins), "failed": msgs},
				fmt.Sprintf("warmed=%d failed=%d", len(bins)-len(failed), len(failed)))
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d BINs failed", len(failed), len(bins))
			}
			return nil
		},
	}

	knownCmd := &cobra.Command{
		Use:   "known",
		Short: "Inspect or publish the known BIN reference table",
	}
	knownListCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the reference table the service would load",
		RunE: func(cmd *cobra.Command, _ []string) error {
			known, err := readKnown(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			text := ""
			for _, k := range known {
				text += k.BIN + "  " + k.Label + "\n"
			}
			emit(known, text)
			return nil
		},
	}
	knownPublishCmd := &cobra.Command{
		Use:   "publish <file>",
		Short: "Validate a local reference table and upload it to the configured bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.KnownBINsBucket == "" {
				return fmt.Errorf("KNOWN_BINS_BUCKET is not set")
			}
			known, err := lookup.ReadKnown(cmd.Context(), nil, "", args[0])
			if err != nil {
				return err
			}
			body, err := json.Marshal(known)
			if err != nil {
				return err
			}
			store := s3infra.NewStore(s3infra.NewClient(cfg), cfg.KnownBINsBucket)
			url, err := store.PutJSON(cmd.Context(), cfg.KnownBINsKey, body)
			if err != nil {
				return err
			}
			emit(map[string]any{"entries": len(known), "location": url}, fmt.Sprintf("published %d entries to %s", len(known), url))
			return nil
		},
	}
	knownCmd.AddCommand(knownListCmd, knownPublishCmd)

	root.AddCommand(sweepCmd, lookupCmd, warmCmd, knownCmd)
	return root
}

// newLookupService builds a lookup service without history or a front cache;
// operator lookups are not attributed to a user.
func newLookupService(cfg *config.Config) lookup.Service {
	client := dynamo.NewClient(cfg)
	return lookup.NewService(lookup.ServiceDeps{
		CacheRepo: dynamo.NewBINCacheRepo(client, cfg.DynamoTables.BINCache),
		Provider:  binprovider.NewClient(cfg),
	})
}

func readKnown(ctx context.Context, cfg *config.Config) ([]domain.KnownBIN, error) {
	if cfg.KnownBINsBucket != "" {
		return lookup.ReadKnown(ctx, s3infra.NewStore(s3infra.NewClient(cfg), cfg.KnownBINsBucket), cfg.KnownBINsKey, "")
	}
	return lookup.ReadKnown(ctx, nil, "", cfg.KnownBINsFile)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
