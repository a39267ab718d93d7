// Package agenterrors defines the error taxonomy shared by every component
// of the SLA monitoring agent: a *Error carries a Kind alongside the
// underlying cause. The orchestrator itself records each failed step as a
// formatted "step: error" string on the run rather than as a *Error.
package agenterrors

import "errors"

// Sentinel errors for comparison via errors.Is. These are intentionally
// generic so call sites can wrap them with fmt.Errorf("...: %w", ...) and
// still be recognized by the classifier helpers below.
var (
	// ErrOpportunityFetchFailed indicates the external analytics source
	// could not be reached or returned an error.
	ErrOpportunityFetchFailed = errors.New("opportunity fetch failed")

	// ErrCacheEmpty indicates a fetch failure occurred with no cached
	// fallback data available.
	ErrCacheEmpty = errors.New("opportunity cache empty")

	// ErrTaskAlreadyPending indicates a Pending task already exists for a
	// (logicalOrderId, type) pair; NotificationTask store invariant.
	ErrTaskAlreadyPending = errors.New("pending task already exists for key")

	// ErrTaskNotFound indicates a lookup by ID found no row.
	ErrTaskNotFound = errors.New("notification task not found")

	// ErrRunNotFound indicates a run ID has no matching record.
	ErrRunNotFound = errors.New("run not found")

	// ErrTickInProgress indicates the orchestrator rejected a trigger
	// because a tick is already running.
	ErrTickInProgress = errors.New("tick already in progress")

	// ErrTickTimeout indicates a tick exceeded its configured deadline.
	ErrTickTimeout = errors.New("tick exceeded timeout")

	// ErrWebhookSendFailed indicates the WebhookSender reported a failure.
	ErrWebhookSendFailed = errors.New("webhook send failed")

	// ErrInvalidConfiguration indicates a config value failed validation.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrMissingConfiguration indicates a required config value was absent
	// and no coded default applied.
	ErrMissingConfiguration = errors.New("missing required configuration")

	// ErrNoWebhookRoute indicates neither an org-specific nor escalation
	// webhook could be resolved for a notification.
	ErrNoWebhookRoute = errors.New("no webhook route available")
)

// Kind classifies an Error by where in the tick it originated.
type Kind string

const (
	KindFetch          Kind = "FetchError"
	KindClassification Kind = "ClassificationError"
	KindPlan           Kind = "PlanError"
	KindSend           Kind = "SendError"
	KindStore          Kind = "StoreError"
	KindTimeout        Kind = "TimeoutError"
	KindConfig         Kind = "ConfigError"
)

// Error provides structured error information with the context needed to
// record a failure in a RunStep without losing the operation, the entity
// involved, and the underlying cause.
type Error struct {
	Op      string // Operation that failed, e.g. "datasync.getOpportunities"
	Kind    Kind
	ID      string // Optional ID of the entity involved (order number, task ID, run ID)
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return e.Op + " [" + e.ID + "] (" + string(e.Kind) + "): " + e.Err.Error()
		}
		return e.Op + " (" + string(e.Kind) + "): " + e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind) + " error"
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error tying an operation and kind to an underlying cause.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// WithID attaches the entity ID involved and returns the same error for
// chaining at the call site.
func (e *Error) WithID(id string) *Error {
	e.ID = id
	return e
}

// IsRetryable reports whether an error represents a transient condition a
// later tick might resolve on its own (fetch/send/timeout failures), as
// opposed to a structural problem (bad config, missing data).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOpportunityFetchFailed) ||
		errors.Is(err, ErrWebhookSendFailed) ||
		errors.Is(err, ErrTickTimeout)
}

// IsNotFound reports whether an error represents a missing entity lookup.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrRunNotFound)
}

// IsConfigurationError reports whether an error originates from config
// validation or a missing required key.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) || errors.Is(err, ErrMissingConfiguration)
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise returns an empty Kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
