package dsctl

import (
	"github.com/dsengine/ds/lib/codec"
	"github.com/dsengine/ds/lib/ds"
	"github.com/spf13/viper"
)

// openConfiguredDB opens (or reattaches to) the database named by the
// --db flag, using --data-dir/--shards/--memory/--serializer to fill in
// DBOptions.
func openConfiguredDB() (string, error) {
	name := viper.GetString("db")
	opts := ds.DefaultDBOptions()
	opts.NShards = viper.GetInt("shards")
	opts.ForceMonotonicTimestamps = true

	recordCodec, err := codec.ByName(viper.GetString("serializer"))
	if err != nil {
		return name, err
	}
	opts.RecordCodec = recordCodec

	if viper.GetBool("memory") {
		opts.Backend = ds.BackendMemory
	} else {
		opts.Backend = ds.BackendPebble
		opts.StorageDir = viper.GetString("data-dir") + "/" + name
	}

	if err := dsFacade.OpenDB(name, opts); err != nil {
		return name, err
	}
	return name, nil
}
