// Package api is the inbound screening control surface: submit, get,
// cancel, and list, plus the review-decision hook. Error responses use
// RFC 7807 problem details with opaque error codes; internal fault
// messages never leave the process.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cleargate/vantage/pkg/faults"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// Code is the stable machine-readable error kind.
	Code string `json:"code,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// kindStatus maps the fault taxonomy to HTTP statuses. Unknown kinds are
// internal errors.
var kindStatus = map[faults.Kind]int{
	faults.KindValidation:          http.StatusBadRequest,
	faults.KindNotFound:            http.StatusNotFound,
	faults.KindComplianceBlocked:   http.StatusUnprocessableEntity,
	faults.KindConsentExpired:      http.StatusForbidden,
	faults.KindBudgetExceeded:      http.StatusConflict,
	faults.KindConcurrencyConflict: http.StatusConflict,
	faults.KindRateLimited:         http.StatusTooManyRequests,
	faults.KindTransientProvider:   http.StatusServiceUnavailable,
	faults.KindCircuitOpen:         http.StatusServiceUnavailable,
	faults.KindAIUnavailable:       http.StatusServiceUnavailable,
	faults.KindCheckUnavailable:    http.StatusServiceUnavailable,
}

// publicDetail is the only message text a fault kind may expose.
var publicDetail = map[faults.Kind]string{
	faults.KindValidation:          "the request is malformed or incomplete",
	faults.KindNotFound:            "the resource does not exist for this tenant",
	faults.KindComplianceBlocked:   "jurisdictional rules block this screening configuration",
	faults.KindConsentExpired:      "the consent grant is missing or expired",
	faults.KindBudgetExceeded:      "the screening budget is exhausted",
	faults.KindConcurrencyConflict: "a concurrent change won; retry the request",
	faults.KindRateLimited:         "rate limit exceeded",
}

// WriteFault maps a fault to its problem-detail response. Validation
// faults keep their message; everything else is opaque.
func WriteFault(w http.ResponseWriter, r *http.Request, err error) {
	kind := faults.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	detail := publicDetail[kind]
	if kind == faults.KindValidation {
		detail = err.Error()
	}
	writeProblem(w, r, status, string(kind), detail)
}

// WriteError writes a problem detail without a fault kind.
func WriteError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeProblem(w, r, status, "", detail)
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	problem := &ProblemDetail{
		Type:   fmt.Sprintf("https://vantage.cleargate.io/errors/%d", status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Code:   code,
	}
	if r != nil {
		problem.Instance = r.URL.Path
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}
