package capture

import "github.com/inlet-sh/inlet/internal/errors"

// Status is a capture's lifecycle tag. Forward-only, except the single
// enrichment-timeout reversion from enriching back to staged.
type Status string

const (
	StatusDiscovered       Status = "discovered"
	StatusVerified         Status = "verified"
	StatusStaged           Status = "staged"
	StatusEnriching        Status = "enriching"
	StatusReady            Status = "ready"
	StatusFailedEnrichment Status = "failed_enrichment"

	// Terminal statuses: no outgoing transitions.
	StatusPublished            Status = "published"
	StatusPublishedDuplicate   Status = "published_duplicate"
	StatusPublishedPlaceholder Status = "published_placeholder"
)

// transitions is the full lifecycle table. Absence means illegal.
var transitions = map[Status][]Status{
	StatusDiscovered: {StatusVerified},
	StatusVerified:   {StatusStaged},
	StatusStaged:     {StatusEnriching, StatusReady},
	// enriching -> staged is the timeout reversion, the one backward edge.
	StatusEnriching:        {StatusReady, StatusFailedEnrichment, StatusStaged},
	StatusReady:            {StatusPublished, StatusPublishedDuplicate},
	StatusFailedEnrichment: {StatusPublishedPlaceholder},
}

// terminalSet holds statuses with no legal outgoing transition.
var terminalSet = map[Status]bool{
	StatusPublished:            true,
	StatusPublishedDuplicate:   true,
	StatusPublishedPlaceholder: true,
}

// AllStatuses lists every lifecycle status, non-terminal first.
var AllStatuses = []Status{
	StatusDiscovered, StatusVerified, StatusStaged, StatusEnriching,
	StatusReady, StatusFailedEnrichment,
	StatusPublished, StatusPublishedDuplicate, StatusPublishedPlaceholder,
}

// NonTerminalStatuses lists statuses the recovery scanner must re-drive.
var NonTerminalStatuses = []Status{
	StatusDiscovered, StatusVerified, StatusStaged, StatusEnriching,
	StatusReady, StatusFailedEnrichment,
}

// Terminal reports whether the status permits no outgoing transitions.
func (s Status) Terminal() bool {
	return terminalSet[s]
}

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	if terminalSet[s] {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// CanTransition validates a requested transition against the lifecycle
// table. Returns a TERMINAL_STATE error for any request leaving a terminal
// status and a STATE_VIOLATION error for every other pair not in the table.
// Never a silent no-op: id is threaded through purely for the error message.
func CanTransition(id string, from, to Status) error {
	if from.Terminal() {
		return errors.NewTerminalState(id, string(from))
	}
	for _, allowed := range transitions[from] {
		if to == allowed {
			return nil
		}
	}
	return errors.NewStateViolation(id, string(from), string(to))
}
