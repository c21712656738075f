package client

import (
	"errors"
	"sync"
	"time"
)

// Action names one user-facing operation. Each has its own status.
type Action string

const (
	ActionConnect           Action = "connect"
	ActionSubmitRequest     Action = "submit_request"
	ActionProcessRequest    Action = "process_request"
	ActionVerifyCertificate Action = "verify_certificate"
	ActionMyCertificates    Action = "my_certificates"
	ActionRevokeCertificate Action = "revoke_certificate"
	ActionExtendValidity    Action = "extend_validity"
	ActionAuthorizeIssuer   Action = "authorize_issuer"
	ActionRevokeIssuer      Action = "revoke_issuer"
	ActionSetRequirements   Action = "set_requirements"
	ActionGetRequirements   Action = "get_requirements"
	ActionGetRequest        Action = "get_request"
	ActionPendingRequests   Action = "pending_requests"
	ActionEncryptedScore    Action = "encrypted_score"
	ActionEncryptedLevel    Action = "encrypted_level"
	ActionStats             Action = "stats"
	ActionEvents            Action = "events"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePending   Phase = "pending"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// ErrActionInFlight is returned when an action is started while the previous
// call of the same action has not returned.
var ErrActionInFlight = errors.New("client: action already in flight")

// ActionStatus is a snapshot of one action's last run.
type ActionStatus struct {
	Phase     Phase
	Err       error
	UpdatedAt time.Time
}

// ActionTracker records the in-flight, error and success state of each action
// independently. Actions never wait on or queue behind each other.
type ActionTracker struct {
	mu     sync.Mutex
	status map[Action]ActionStatus
	now    func() time.Time
}

func NewActionTracker() *ActionTracker {
	return &ActionTracker{status: make(map[Action]ActionStatus), now: time.Now}
}

func (t *ActionTracker) begin(a Action) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status[a].Phase == PhasePending {
		return ErrActionInFlight
	}
	t.status[a] = ActionStatus{Phase: PhasePending, UpdatedAt: t.now()}
	return nil
}

func (t *ActionTracker) end(a Action, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := ActionStatus{Phase: PhaseSucceeded, UpdatedAt: t.now()}
	if err != nil {
		st.Phase = PhaseFailed
		st.Err = err
	}
	t.status[a] = st
}

// Status returns the last known state of a. Unused actions are idle.
func (t *ActionTracker) Status(a Action) ActionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.status[a]; ok {
		return st
	}
	return ActionStatus{Phase: PhaseIdle}
}

func (t *ActionTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for a, st := range t.status {
		if st.Phase != PhasePending {
			delete(t.status, a)
		}
	}
}

// track runs fn as action a. The returned error is fn's.
func track[T any](t *ActionTracker, a Action, fn func() (T, error)) (T, error) {
	if err := t.begin(a); err != nil {
		var zero T
		return zero, err
	}
	out, err := fn()
	t.end(a, err)
	return out, err
}
