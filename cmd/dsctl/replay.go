package dsctl

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var replayCmd = &cobra.Command{
	Use:   "replay <topic-filter>",
	Short: "Replay every stored message matching a topic filter to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	replayCmd.Flags().Int("batch-size", 64, "messages requested per Next call")
	replayCmd.Flags().Int64("start-time", 0, "only replay messages at or after this timestamp")
}

func runReplay(cmd *cobra.Command, args []string) error {
	name, err := openConfiguredDB()
	if err != nil {
		return err
	}
	defer dsFacade.CloseDB(name)

	filter := args[0]
	batchSize := viper.GetInt("batch-size")
	startTime := viper.GetInt64("start-time")

	streams, err := dsFacade.GetStreams(name, filter, startTime)
	if err != nil {
		return err
	}
	sort.Slice(streams, func(i, j int) bool {
		si, gi := streams[i].Rank()
		sj, gj := streams[j].Rank()
		if si != sj {
			return si < sj
		}
		return gi < gj
	})

	total := 0
	for _, sh := range streams {
		it, err := dsFacade.MakeIterator(name, sh, filter, startTime)
		if err != nil {
			return err
		}
		for {
			result, next, err := dsFacade.Next(it, batchSize)
			if err != nil {
				return err
			}
			for _, e := range result.Entries {
				fmt.Printf("%s\t%d\t%s\n", e.Message.Topic, e.Message.Timestamp, e.Message.Payload)
				total++
			}
			it = next
			if result.EndOfStream {
				break
			}
			if len(result.Entries) == 0 {
				break
			}
		}
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d message(s)\n", total)
	return nil
}
