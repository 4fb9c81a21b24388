// Package dsctl implements the administrative CLI for a DS engine: opening
// and dropping databases, rolling and listing generations, and storing or
// replaying messages directly against an on-disk store, without a server
// in front of it.
package dsctl

import (
	"github.com/dsengine/ds/cmd/util"
	"github.com/dsengine/ds/lib/ds"
	"github.com/spf13/cobra"
)

var (
	dsFacade = ds.New()

	// Cmd is the "ds" command group, mounted under the root command.
	Cmd = &cobra.Command{
		Use:               "ds",
		Short:             "Inspect and administer a DS message store",
		PersistentPreRunE: bindFlags,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	Cmd.PersistentFlags().String("data-dir", "./data", util.WrapString("directory a pebble-backed database is opened from"))
	Cmd.PersistentFlags().String("db", "default", util.WrapString("name of the database to operate on"))
	Cmd.PersistentFlags().Int("shards", 4, util.WrapString("number of shards to open the database with"))
	Cmd.PersistentFlags().Bool("memory", false, util.WrapString("use an in-memory backend instead of pebble (data does not survive the process)"))
	Cmd.PersistentFlags().String("serializer", "binary", util.WrapString("record codec to use: binary, json, or gob"))

	Cmd.AddCommand(openCmd)
	Cmd.AddCommand(dropCmd)
	Cmd.AddCommand(storeCmd)
	Cmd.AddCommand(replayCmd)
	Cmd.AddCommand(genAddCmd)
	Cmd.AddCommand(genListCmd)
	Cmd.AddCommand(genDropCmd)
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return util.BindCommandFlags(cmd)
}
