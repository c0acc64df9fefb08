package fetch

import (
	"errors"
	"net/http"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		res  *Result
		err  error
		want Outcome
	}{
		{"transport error", nil, errors.New("dial tcp: connection refused"), OutcomeTryLater},
		{"not modified", &Result{NotModified: true, StatusCode: http.StatusNotModified}, nil, OutcomeNoChange},
		{"plain success", &Result{StatusCode: http.StatusOK}, nil, OutcomeFetched},
		{"permanent redirect", &Result{StatusCode: http.StatusOK, PermanentRedirect: true}, nil, OutcomePermanentRedirect},
		{"gone", &Result{StatusCode: http.StatusGone}, nil, OutcomeGone},
		{"not found", &Result{StatusCode: http.StatusNotFound}, nil, OutcomeNotFound},
		{"server error", &Result{StatusCode: http.StatusInternalServerError}, nil, OutcomeTryLater},
		{"bad gateway", &Result{StatusCode: http.StatusBadGateway}, nil, OutcomeTryLater},
		{"rate limited", &Result{StatusCode: http.StatusTooManyRequests}, nil, OutcomeTryLater},
		{"forbidden", &Result{StatusCode: http.StatusForbidden}, nil, OutcomeGenericError},
		{"parse failure", &Result{StatusCode: http.StatusOK, ParseErr: errors.New("not a feed")}, nil, OutcomeGenericError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.res, tt.err)
			if got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOutcomePredicates(t *testing.T) {
	okOutcomes := map[Outcome]bool{
		OutcomeFetched:           true,
		OutcomePermanentRedirect: true,
		OutcomeNoChange:          true,
	}
	reconcileOutcomes := map[Outcome]bool{
		OutcomeFetched:           true,
		OutcomePermanentRedirect: true,
	}

	all := []Outcome{
		OutcomeFetched, OutcomeNoChange, OutcomePermanentRedirect,
		OutcomeGone, OutcomeNotFound, OutcomeTryLater, OutcomeGenericError,
	}
	for _, o := range all {
		if got := o.OK(); got != okOutcomes[o] {
			t.Errorf("%v.OK() = %v, want %v", o, got, okOutcomes[o])
		}
		if got := o.ShouldReconcile(); got != reconcileOutcomes[o] {
			t.Errorf("%v.ShouldReconcile() = %v, want %v", o, got, reconcileOutcomes[o])
		}
	}
}

func TestOutcomeString(t *testing.T) {
	if got := OutcomeTryLater.String(); got != "TRY_LATER" {
		t.Errorf("String() = %q, want TRY_LATER", got)
	}
	if got := Outcome(99).String(); got != "UNKNOWN" {
		t.Errorf("String() = %q, want UNKNOWN", got)
	}
}
