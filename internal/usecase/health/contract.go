package health

import "context"

// DBPinger checks index backend availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// DeadLetterChecker checks dead-letter sink availability.
type DeadLetterChecker interface {
	Ping(ctx context.Context) error
}
