// Package runtime owns the backend handles of an eventpipe process.
//
// Example:
//
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: logger})
//	if err != nil { ... }
//	defer rt.Close()
//	_, _ = rt.EnsureTopic(ctx)
//	_ = rt.CheckHealth(ctx)
package runtime
