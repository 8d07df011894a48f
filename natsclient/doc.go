// Package natsclient manages the NATS connection used by the work queue, with
// a circuit breaker around connection attempts and JetStream KV access.
//
// # Connection lifecycle
//
// A Client is created with NewClient, connected with Connect and closed with
// Close. After circuitThreshold consecutive connection failures the breaker
// opens and Connect fails fast with ErrCircuitOpen until the backoff elapses.
//
//	client, err := natsclient.NewClient(cfg.Broker.URLs,
//		natsclient.WithLogger(logger),
//		natsclient.WithMetrics(registry))
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(context.Background())
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "DASFLEX_JOBS"})
//	store := natsclient.NewKVStore(bucket, 5*time.Second)
//
// KVStore normalizes the JetStream KV errors into ErrKVKeyNotFound,
// ErrKVKeyExists and ErrKVRevisionMismatch.
package natsclient
