package dsctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a database, creating it if it does not exist, and print its shard layout",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := openConfiguredDB()
		if err != nil {
			return err
		}
		defer dsFacade.CloseDB(name)

		info, err := dsFacade.GetDBInfo(name)
		if err != nil {
			return err
		}
		fmt.Printf("database %q: %d shard(s), backend=%v\n", info.Name, info.NShards, info.Backend)
		for _, sh := range info.Shards {
			fmt.Printf("  shard=%s generations=%d watermark=%d\n", sh.ShardID, sh.Generations, sh.Watermark)
		}
		return nil
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop every generation of a database and close it",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := openConfiguredDB()
		if err != nil {
			return err
		}
		return dsFacade.DropDB(name)
	},
}
