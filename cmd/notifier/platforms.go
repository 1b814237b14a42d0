package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/samvad-hq/samvad-notifier/pkg/platforms"
	"github.com/spf13/cobra"
)

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List configured platforms",
	RunE:  platformsAction,
}

func init() {
	rootCmd.AddCommand(platformsCmd)
}

func platformsAction(cmd *cobra.Command, _ []string) error {
	cfgs, err := platforms.LoadPlatforms(globalConfig.PlatformsFile)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tTARGET\tSCHEDULE\tCATEGORIES")
	for _, cfg := range cfgs {
		meta, err := platforms.NewMeta(cfg)
		if err != nil {
			return err
		}
		spec, _ := meta.Schedule.Spec()
		target := "-"
		if meta.HasTarget {
			target = "yes"
		}
		cats := strings.Join(meta.Categories.Labels(), " ")
		if cats == "" {
			cats = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", meta.ID, meta.Name, cfg.Type, target, spec, cats)
	}
	return w.Flush()
}
