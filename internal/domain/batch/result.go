package batch

import (
	"fmt"

	"github.com/kailas-cloud/vecdex-ingest/internal/domain"
)

// ItemStatus is the processing outcome of a single batch item.
type ItemStatus string

// Batch item status values.
const (
	StatusOK    ItemStatus = "ok"
	StatusError ItemStatus = "error"
)

// Result is the outcome of writing one document in a bulk operation.
type Result struct {
	id     string
	status ItemStatus
	err    error
}

// NewOK creates a successful batch result.
func NewOK(id string) Result { return Result{id: id, status: StatusOK} }

// NewError creates a failed batch result.
func NewError(id string, err error) Result { return Result{id: id, status: StatusError, err: err} }

// ID returns the document identifier.
func (r Result) ID() string { return r.id }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }

// OK reports whether the item succeeded.
func (r Result) OK() bool { return r.status == StatusOK }

// Failure describes one record that did not make it into the index.
type Failure struct {
	Ref        string // queue message id
	DocumentID string // empty when the record failed before a document existed
	Kind       domain.ErrorKind
	Err        error
	Body       []byte // original message body, kept for dead-lettering
}

// NewFailure classifies err and builds a Failure.
func NewFailure(ref, documentID string, err error) Failure {
	return Failure{Ref: ref, DocumentID: documentID, Kind: domain.KindOf(err), Err: err}
}

// Report tallies one ProcessBatch call.
// Parse and store failures are disjoint: a record appears in at most one list.
type Report struct {
	BatchID       string
	Total         int
	Succeeded     int
	ParseFailures []Failure
	StoreFailures []Failure
}

// TotalFailed returns parse plus store failures.
func (r Report) TotalFailed() int { return len(r.ParseFailures) + len(r.StoreFailures) }

// Failures returns parse failures followed by store failures.
func (r Report) Failures() []Failure {
	out := make([]Failure, 0, r.TotalFailed())
	out = append(out, r.ParseFailures...)
	return append(out, r.StoreFailures...)
}

// FailedRefs returns the queue references of every failed record.
func (r Report) FailedRefs() []string {
	refs := make([]string, 0, r.TotalFailed())
	for _, f := range r.Failures() {
		refs = append(refs, f.Ref)
	}
	return refs
}

// Merge folds other into r. Used when one delivery is processed in several chunks.
func (r *Report) Merge(other Report) {
	r.Total += other.Total
	r.Succeeded += other.Succeeded
	r.ParseFailures = append(r.ParseFailures, other.ParseFailures...)
	r.StoreFailures = append(r.StoreFailures, other.StoreFailures...)
}

// Summary renders the per-batch log line.
func (r Report) Summary() string {
	return fmt.Sprintf("%d succeeded, %d failed", r.Succeeded, r.TotalFailed())
}
