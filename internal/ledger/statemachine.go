package ledger

import (
	"github.com/ksred/ledger-api/internal/types"
)

// Actions that drive entry status changes
const (
	ActionCommit         = "commit"
	ActionFail           = "fail"
	ActionStartReconcile = "start_reconcile"
	ActionResolveOK      = "resolve_committed"
	ActionResolveFailed  = "resolve_failed"
)

// transitions is the closed table of valid (status, action) pairs. Any
// pair not listed here is rejected; there are no ad-hoc status writes.
var transitions = map[string]map[string]string{
	StatusPending: {
		ActionCommit: StatusCommitted,
		ActionFail:   StatusFailed,
	},
	StatusCommitted: {
		// Re-committing is a no-op rather than an error.
		ActionCommit:         StatusCommitted,
		ActionStartReconcile: StatusReconciling,
	},
	StatusReconciling: {
		ActionResolveOK:     StatusCommitted,
		ActionResolveFailed: StatusFailed,
	},
}

// nextStatus resolves the target status for an action on an entry, or an
// InvalidTransitionError when the pair is undefined.
func nextStatus(entry *Entry, action string) (string, error) {
	if targets, ok := transitions[entry.Status]; ok {
		if next, ok := targets[action]; ok {
			return next, nil
		}
	}
	return "", &types.InvalidTransitionError{
		EntryID: entry.EntryID,
		From:    entry.Status,
		Action:  action,
	}
}
