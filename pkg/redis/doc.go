// Package redis provides the storage client used by the flag evaluation
// service: a narrow, bounded-wait wrapper over a remote Redis.
//
// Every command is raced against a fixed timeout (10ms by default) and every
// failure is mapped into a closed set of sentinel errors so callers can
// branch exhaustively:
//
//	value, err := client.Get(ctx, "flag:team:7")
//	switch {
//	case errors.Is(err, redis.ErrNotFound):
//		// key absent; fall back to defaults
//	case errors.Is(err, redis.ErrTimeout):
//		// store too slow; caller decides whether to retry
//	case errors.Is(err, redis.ErrPickle):
//		// stored bytes don't match the legacy envelope
//	case errors.Is(err, redis.ErrStore):
//		// any other store failure, cause preserved in the message
//	}
//
// Scalar values written with Set (and read back with Get) are wrapped in the
// legacy pickle envelope so the Django side of the platform can read them;
// hash fields are plain strings. That asymmetry is part of the external
// contract and must not be changed without coordinating both consumers.
//
// The client performs no retries, no batching, and no transactions; each
// command independently checks out a connection. A Client handle is safe for
// concurrent use.
package redis
