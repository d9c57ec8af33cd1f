package db

import "errors"

// Sentinel errors for backend operations.
var (
	ErrKeyNotFound   = errors.New("db: key not found")
	ErrIndexNotFound = errors.New("db: index not found")
	ErrIndexExists   = errors.New("db: index already exists")
	ErrUnavailable   = errors.New("db: backend unavailable")
)

// Op names used for error context.
const (
	OpPing        = "PING"
	OpCreateIndex = "FT.CREATE"
	OpIndexInfo   = "FT.INFO"
	OpHSet        = "HSET"
	OpHGetAll     = "HGETALL"
	OpBulk        = "BULK"
	OpBatch       = "BATCH"
	OpOpen        = "OPEN"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(op string, err error) error {
	return &Error{Op: op, Err: errors.Join(ErrUnavailable, err)}
}
