package dsctl

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/dsengine/ds/lib/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Store one message, or a batch of messages read from a file",
	Long: `Store either a single message given by --topic/--payload/--from, or a
batch of messages read from --file, one message per line formatted as
"topic\tpayload" (a missing payload stores an empty one).`,
	RunE: runStore,
}

func init() {
	storeCmd.Flags().String("topic", "", "topic to publish to")
	storeCmd.Flags().String("payload", "", "message payload")
	storeCmd.Flags().String("from", "", "publishing client id, used for shard routing")
	storeCmd.Flags().String("file", "", "path to a newline-delimited batch of topic\\tpayload lines")
}

func runStore(cmd *cobra.Command, args []string) error {
	name, err := openConfiguredDB()
	if err != nil {
		return err
	}
	defer dsFacade.CloseDB(name)

	var ops []model.Operation
	if file := viper.GetString("file"); file != "" {
		ops, err = readBatchFile(file)
		if err != nil {
			return err
		}
	} else {
		topic := viper.GetString("topic")
		if topic == "" {
			return fmt.Errorf("dsctl: --topic or --file is required")
		}
		ops = []model.Operation{{
			Type: model.OpStore,
			Message: model.Message{
				From:    viper.GetString("from"),
				Topic:   topic,
				Payload: []byte(viper.GetString("payload")),
			},
		}}
	}

	batch := model.Batch{Ops: ops}
	if err := dsFacade.StoreBatch(name, batch, model.DefaultBatchOptions()); err != nil {
		return err
	}
	fmt.Printf("stored %d message(s)\n", len(ops))
	return nil
}

func readBatchFile(path string) ([]model.Operation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dsctl: open %q: %w", path, err)
	}
	defer f.Close()

	var ops []model.Operation
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		topic := parts[0]
		var payload string
		if len(parts) == 2 {
			payload = parts[1]
		}
		ops = append(ops, model.Operation{
			Type:    model.OpStore,
			Message: model.Message{Topic: topic, Payload: []byte(payload)},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dsctl: read %q: %w", path, err)
	}
	return ops, nil
}
