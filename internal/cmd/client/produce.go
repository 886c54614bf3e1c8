package client

import (
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tjarratt/babble"
)

type publishResult struct {
	Topic     string `json:"topic"`
	Partition uint32 `json:"partition"`
	Offset    uint64 `json:"offset"`
}

// words returns a short random phrase for demo payloads. babble reads the
// system dictionary and panics without one; the fallback keeps --demo usable.
var words = func() (phrase string) {
	defer func() {
		if recover() != nil {
			phrase = "lorem ipsum"
		}
	}()
	b := babble.NewBabbler()
	b.Count = 2
	return b.Babble()
}

// NewProduceCommand constructs the `produce` command.
func NewProduceCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "produce [EVENT_JSON]",
		Short: "Publish events to the consumed topic",
		Long: `Publish one event given as a JSON argument, or --demo N generated events.

An event is {"eventId": string, "timestamp": ms, "type": string, "payload": any}.
Records are keyed by eventId unless --key is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, _ := cmd.Flags().GetString("topic")
			key, _ := cmd.Flags().GetString("key")
			demo, _ := cmd.Flags().GetInt("demo")
			typ, _ := cmd.Flags().GetString("type")

			var values []json.RawMessage
			switch {
			case len(args) == 1 && demo > 0:
				return errors.New("use either an event argument or --demo, not both")
			case len(args) == 1:
				if !json.Valid([]byte(args[0])) {
					return errors.New("event must be valid JSON")
				}
				values = append(values, json.RawMessage(args[0]))
			case demo > 0:
				for range demo {
					v, err := demoEvent(typ)
					if err != nil {
						return err
					}
					values = append(values, v)
				}
			default:
				return errors.New("an event argument or --demo is required")
			}

			for _, v := range values {
				k := key
				if k == "" {
					k = eventIDOf(v)
				}
				var res publishResult
				req := map[string]any{"topic": topic, "key": k, "value": v}
				if err := call(cmd.Context(), baseURL, "POST", "/v1/topics/publish", req, &res); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "topic=%s partition=%d offset=%d key=%s\n", res.Topic, res.Partition, res.Offset, k)
			}
			return nil
		},
	}
	cmd.Flags().String("topic", "", "Topic (default: the worker's configured topic)")
	cmd.Flags().String("key", "", "Record key (default: the event's eventId)")
	cmd.Flags().Int("demo", 0, "Generate and publish N demo events")
	cmd.Flags().String("type", "demo.event", "Event type for --demo")
	return cmd
}

func demoEvent(typ string) (json.RawMessage, error) {
	return json.Marshal(map[string]any{
		"eventId":   uuid.NewString(),
		"timestamp": time.Now().UnixMilli(),
		"type":      typ,
		"payload":   map[string]string{"message": words()},
	})
}

func eventIDOf(v json.RawMessage) string {
	var e struct {
		ID string `json:"eventId"`
	}
	_ = json.Unmarshal(v, &e)
	return e.ID
}
