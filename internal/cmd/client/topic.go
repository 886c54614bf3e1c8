package client

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// NewTopicCommand constructs the `topic` command group.
func NewTopicCommand(baseURL BaseURLFunc) *cobra.Command {
	topicCmd := &cobra.Command{
		Use:   "topic",
		Short: "Topic provisioning",
	}
	topicCmd.AddCommand(newTopicCreateCommand(baseURL), newTopicGetCommand(baseURL))
	return topicCmd
}

func newTopicCreateCommand(baseURL BaseURLFunc) *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a topic (idempotent)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			partitions, _ := cmd.Flags().GetInt("partitions")
			replication, _ := cmd.Flags().GetInt("replication-factor")
			req := map[string]any{"name": name, "partitions": partitions, "replicationFactor": replication}
			var meta map[string]any
			if err := call(cmd.Context(), baseURL, "POST", "/v1/topics/create", req, &meta); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
			return printJSON(cmd, meta)
		},
	}
	createCmd.Flags().String("name", "consume-event", "Topic name")
	createCmd.Flags().Int("partitions", 3, "Number of partitions")
	createCmd.Flags().Int("replication-factor", 1, "Replication factor (recorded only)")
	return createCmd
}

func newTopicGetCommand(baseURL BaseURLFunc) *cobra.Command {
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show topic metadata",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			var meta map[string]any
			if err := call(cmd.Context(), baseURL, "GET", "/v1/topics/get?name="+url.QueryEscape(name), nil, &meta); err != nil {
				return err
			}
			return printJSON(cmd, meta)
		},
	}
	getCmd.Flags().String("name", "consume-event", "Topic name")
	return getCmd
}
