package dsctl

import (
	"fmt"
	"sort"

	"github.com/dsengine/ds/lib/ds"
	"github.com/spf13/cobra"
)

var genAddCmd = &cobra.Command{
	Use:   "gen-add",
	Short: "Roll every shard of a database forward to a new generation",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := openConfiguredDB()
		if err != nil {
			return err
		}
		defer dsFacade.CloseDB(name)
		return dsFacade.AddGeneration(name)
	},
}

var genListCmd = &cobra.Command{
	Use:   "gen-list",
	Short: "List every shard's generations and their [since, until) lifetimes",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := openConfiguredDB()
		if err != nil {
			return err
		}
		defer dsFacade.CloseDB(name)

		metas, err := dsFacade.ListGenerationsWithLifetimes(name)
		if err != nil {
			return err
		}
		ranks := make([]ds.GenRank, 0, len(metas))
		for r := range metas {
			ranks = append(ranks, r)
		}
		sort.Slice(ranks, func(i, j int) bool {
			if ranks[i].Shard != ranks[j].Shard {
				return ranks[i].Shard < ranks[j].Shard
			}
			return ranks[i].GenID < ranks[j].GenID
		})
		for _, r := range ranks {
			meta := metas[r]
			until := "open"
			if meta.HasUntil {
				until = fmt.Sprintf("%d", meta.Until)
			}
			fmt.Printf("shard=%s gen=%d since=%d until=%s schema=%s\n", r.Shard, r.GenID, meta.Since, until, meta.LayoutSchema)
		}
		return nil
	},
}

var genDropCmd = &cobra.Command{
	Use:   "gen-drop <shard> <gen-id>",
	Short: "Drop one shard's generation; an already-absent one is success",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := openConfiguredDB()
		if err != nil {
			return err
		}
		defer dsFacade.CloseDB(name)

		var genID uint64
		if _, err := fmt.Sscanf(args[1], "%d", &genID); err != nil {
			return fmt.Errorf("dsctl: invalid generation id %q: %w", args[1], err)
		}
		return dsFacade.DropGeneration(name, ds.GenRank{Shard: args[0], GenID: genID})
	},
}
