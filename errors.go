package credvault

import "fmt"

// Steps of a Manager operation, used to name where an operation failed.
const (
	StepAuthenticate = "authenticate"
	StepRateLimit    = "rate limit"
	StepValidate     = "validate"
	StepEncrypt      = "encrypt"
	StepDecrypt      = "decrypt"
	StepPersist      = "persist"
	StepLookup       = "lookup"
)

// Error is returned by every Manager operation. Err is always one of the
// package sentinels so callers can use errors.Is; the message never carries
// the text of a lower level error.
type Error struct {
	Op      string
	Service string
	Step    string
	Err     error
}

func (e *Error) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("%s credentials failed at %s step: %v", e.Op, e.Step, e.Err)
	}
	return fmt.Sprintf("%s %s credential failed at %s step: %v", e.Op, e.Service, e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
