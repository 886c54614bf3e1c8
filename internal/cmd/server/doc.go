// Package serverrun exposes the Run entrypoint used by the CLI to start an
// eventpipe worker: the ingestion loop, the dispatch engine, the admin API
// and the retention sweeper, sharing one runtime and stopping together.
//
// Example:
//
//	cfg, _ := config.Load("eventpipe.yaml")
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
