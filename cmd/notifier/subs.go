package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
	"github.com/samvad-hq/samvad-notifier/internal/storage"
	"github.com/spf13/cobra"
)

var (
	subsSubscriber string
	subsScope      string
	subsFormat     string
)

var subsCmd = &cobra.Command{
	Use:   "subs",
	Short: "Inspect subscriptions",
}

var subsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the subscriptions of a subscriber",
	RunE:  subsListAction,
}

func init() {
	subsListCmd.Flags().StringVar(&subsSubscriber, "subscriber", "", "subscriber id (required)")
	subsListCmd.Flags().StringVar(&subsScope, "scope", string(domain.ScopeGroup), "subscriber scope: user, group")
	subsListCmd.Flags().StringVar(&subsFormat, "format", "table", "output format: table, json")
	_ = subsListCmd.MarkFlagRequired("subscriber")
	subsCmd.AddCommand(subsListCmd)
	rootCmd.AddCommand(subsCmd)
}

func subsListAction(cmd *cobra.Command, _ []string) error {
	store, err := storage.NewStore(globalConfig.StorageType, globalConfig.StoragePath(), storage.Options{
		PollStateTTL:    globalConfig.PollStateTTL,
		CleanupInterval: globalConfig.StorageCleanupInterval,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	subs, err := store.ListSubscriptions(cmd.Context(), subsSubscriber, domain.ParseScope(subsScope))
	if err != nil {
		return err
	}

	if subsFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(subs)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tPLATFORM\tTARGET\tNAME\tCATEGORIES\tTAGS")
	for i, sub := range subs {
		cats := make([]string, 0, len(sub.Categories))
		for _, c := range sub.Categories {
			cats = append(cats, fmt.Sprint(int(c)))
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", i+1, sub.Platform, sub.Target, sub.TargetName,
			orAll(strings.Join(cats, ",")), orAll(strings.Join(sub.Tags, ",")))
	}
	return w.Flush()
}

func orAll(s string) string {
	if s == "" {
		return "*"
	}
	return s
}
