package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the eventpipe client.
// It registers the produce, topic and jobs command groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "eventpipe",
		Short: "eventpipe client commands",
	}
	AddCommands(root, baseURL)
	return root
}

// AddCommands registers the client commands on an existing root.
func AddCommands(root *cobra.Command, baseURL BaseURLFunc) {
	root.AddCommand(
		NewProduceCommand(baseURL),
		NewTopicCommand(baseURL),
		NewJobsCommand(baseURL),
	)
}
