// Package httpserver is the admin API of an eventpipe process: health,
// topic provisioning and publishing, and failed-job inspection and requeue.
// It lets the client commands operate while the worker holds the Pebble
// directory lock.
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: config.Default()})
//	s := httpserver.New(rt, logger)
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
