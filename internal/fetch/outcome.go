package fetch

import "net/http"

// Outcome classifies what one conditional GET means for the feed. The
// orchestrator switches exhaustively over these values, so a new outcome is
// a compile-time decision point rather than a fallthrough.
type Outcome int

const (
	// OutcomeFetched: success with a body worth reconciling.
	OutcomeFetched Outcome = iota
	// OutcomeNoChange: cache validators matched, nothing to do.
	OutcomeNoChange
	// OutcomePermanentRedirect: success, and the feed has moved for good.
	OutcomePermanentRedirect
	// OutcomeGone: the origin says the resource is permanently removed.
	OutcomeGone
	// OutcomeNotFound: the origin has no such resource.
	OutcomeNotFound
	// OutcomeTryLater: transient origin failure, eligible for retry.
	OutcomeTryLater
	// OutcomeGenericError: any other client error or unparseable body.
	OutcomeGenericError
)

var outcomeNames = map[Outcome]string{
	OutcomeFetched:           "FETCHED",
	OutcomeNoChange:          "NO_CHANGE",
	OutcomePermanentRedirect: "PERMANENT_REDIRECT",
	OutcomeGone:              "GONE",
	OutcomeNotFound:          "NOT_FOUND",
	OutcomeTryLater:          "TRY_LATER",
	OutcomeGenericError:      "GENERIC_ERROR",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "UNKNOWN"
}

// OK reports whether the outcome leaves the feed healthy.
func (o Outcome) OK() bool {
	switch o {
	case OutcomeFetched, OutcomePermanentRedirect, OutcomeNoChange:
		return true
	}
	return false
}

// ShouldReconcile reports whether the outcome carries entries worth merging.
func (o Outcome) ShouldReconcile() bool {
	return o == OutcomeFetched || o == OutcomePermanentRedirect
}

// Classify maps a fetch result (or transport error) to an Outcome.
//
// A transport error means the origin was unreachable, which is transient by
// definition. 429 is grouped with the transient outcomes as well: the origin
// is explicitly asking us to come back later.
func Classify(res *Result, err error) Outcome {
	if err != nil {
		return OutcomeTryLater
	}

	if res.NotModified {
		return OutcomeNoChange
	}

	switch {
	case res.StatusCode == http.StatusGone:
		return OutcomeGone
	case res.StatusCode == http.StatusNotFound:
		return OutcomeNotFound
	case res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests:
		return OutcomeTryLater
	case res.StatusCode >= 400:
		return OutcomeGenericError
	}

	if res.ParseErr != nil {
		return OutcomeGenericError
	}

	if res.PermanentRedirect {
		return OutcomePermanentRedirect
	}
	return OutcomeFetched
}
