// Package broker is the embedded log broker: topic provisioning, keyed
// publish across partitions and consumer groups with durable cursors. Each
// partition is an eventlog.Log stored in the shared Pebble database.
//
//	b := broker.New(db, broker.Options{Logger: logger})
//	_, _ = b.EnsureTopic(ctx, broker.TopicSpec{Name: "consume-event", Partitions: 3})
//	_, _, _ = b.Publish(ctx, "consume-event", []byte("e1"), raw)
//
//	g := b.Group("consume-event", "event-consumer-group")
//	sub, _ := g.Subscribe(ctx, 0)
//	rec, _ := sub.Next(ctx)
//	_ = g.Commit(ctx, rec.Partition, rec.Offset)
package broker
