package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	db         DBPinger
	deadLetter DeadLetterChecker
}

// New creates a Service. deadLetter can be nil.
func New(db DBPinger, deadLetter DeadLetterChecker) *Service {
	return &Service{db: db, deadLetter: deadLetter}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	checks["index"] = result(s.db.Ping(ctx))
	if s.deadLetter != nil {
		checks["dead_letter"] = result(s.deadLetter.Ping(ctx))
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}

// Ready reports whether the service can accept traffic. Only the index backend gates readiness.
func (r Report) Ready() bool {
	return r.Checks["index"] == CheckOK
}

func result(err error) CheckResult {
	if err != nil {
		return CheckError
	}
	return CheckOK
}
