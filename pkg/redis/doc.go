// Package redis connects to Redis with go-redis v9 and exposes a readiness
// check. The client it returns backs queue.RedisBroker and the Redis
// idempotency guard.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
package redis
