// Package pebblestore wraps Pebble with an fsync policy, atomic batches and
// prefix scans. Both the embedded log broker and the embedded job store sit on
// top of it.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data/broker",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(ctx, b)
//	b.Close()
//
//	_ = db.ScanPrefix([]byte("job/"), func(k, v []byte) bool { return true })
package pebblestore
