package health

import (
	"context"
	"errors"
	"testing"

	"github.com/jonwraymond/tooldelegate/resilience"
)

type fakeKeySet struct{ err error }

func (f fakeKeySet) Check(context.Context) error { return f.err }

type fakeTrustService struct{ err error }

func (fakeTrustService) Addr() string                   { return "http://trust:8200" }
func (f fakeTrustService) Health(context.Context) error { return f.err }

type fakeCircuit resilience.State

func (f fakeCircuit) CircuitState() resilience.State { return resilience.State(f) }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestDependencyCheckers(t *testing.T) {
	down := errors.New("connection refused")

	tests := []struct {
		name     string
		checker  Checker
		wantName string
		want     Status
	}{
		{"key set loaded", KeySetChecker(fakeKeySet{}), "key_set", StatusHealthy},
		{"key set failing", KeySetChecker(fakeKeySet{err: down}), "key_set", StatusUnhealthy},
		{"trust service up", TrustServiceChecker(fakeTrustService{}), "trust_service", StatusHealthy},
		{"trust service down", TrustServiceChecker(fakeTrustService{err: down}), "trust_service", StatusUnhealthy},
		{"circuit closed", CircuitChecker("broker_circuit", fakeCircuit(resilience.StateClosed)), "broker_circuit", StatusHealthy},
		{"circuit open", CircuitChecker("broker_circuit", fakeCircuit(resilience.StateOpen)), "broker_circuit", StatusDegraded},
		{"circuit half-open", CircuitChecker("broker_circuit", fakeCircuit(resilience.StateHalfOpen)), "broker_circuit", StatusDegraded},
		{"database up", DatabaseChecker(fakePinger{}), "database", StatusHealthy},
		{"database down", DatabaseChecker(fakePinger{err: down}), "database", StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.checker.Name(); got != tt.wantName {
				t.Errorf("Name() = %q, want %q", got, tt.wantName)
			}
			r := tt.checker.Check(context.Background())
			if r.Status != tt.want {
				t.Errorf("Status = %v, want %v (%s)", r.Status, tt.want, r.Message)
			}
			if tt.want == StatusUnhealthy && !errors.Is(r.Error, ErrCheckFailed) {
				t.Errorf("Error = %v, want ErrCheckFailed", r.Error)
			}
		})
	}
}

func TestTrustServiceChecker_Details(t *testing.T) {
	r := TrustServiceChecker(fakeTrustService{}).Check(context.Background())
	if r.Details["addr"] != "http://trust:8200" {
		t.Errorf("Details = %v", r.Details)
	}
}
