// Package redis implements store.Store on Redis through go-redis/v9.
// Suitable for high-throughput deployments that already run Redis.
//
// Every record is a JSON document under its own key. Sorted sets index the
// dispatch order (priority tier, then submission sequence), eligibility
// times, heartbeats and DLQ failure times. Each state change is an
// optimistic WATCH/MULTI transaction on the job key, so two racing
// transitions can never both commit.
//
// The caller owns the client lifecycle:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
