package workflow

import "errors"

// Command errors returned by SubmitAction. Callers are expected to reload
// current state and decide whether to retry; none of these is retried
// automatically.
var (
	ErrNotFound          = errors.New("approval request not found")
	ErrInvalidRole       = errors.New("role is not a required approver for this request")
	ErrAlreadyTerminal   = errors.New("approval request is already terminal")
	ErrDuplicateApproval = errors.New("role has already approved this request")
)
