// Package clierr maps startup failures to the process exit codes the
// operator-facing contract promises: 99 for a missing or invalid config
// directory, 100 for a config parse failure, 101 for any other
// executor/setup failure.
package clierr

import "fmt"

const (
	ExitConfigInvalid = 99
	ExitParseFailed   = 100
	ExitSetupFailed   = 101
)

// ExitError wraps an error with the process exit code it should
// produce, letting cmd.Execute translate it without re-deriving the
// code from error text.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func ConfigInvalid(err error) error {
	return &ExitError{Code: ExitConfigInvalid, Err: err}
}

func ParseFailed(err error) error {
	return &ExitError{Code: ExitParseFailed, Err: fmt.Errorf("parsing config: %w", err)}
}

func SetupFailed(err error) error {
	return &ExitError{Code: ExitSetupFailed, Err: fmt.Errorf("starting up: %w", err)}
}

// CodeOf extracts the exit code from err, defaulting to ExitSetupFailed
// for any error that wasn't explicitly classified.
func CodeOf(err error) int {
	var ee *ExitError
	if asExitError(err, &ee) {
		return ee.Code
	}

	return ExitSetupFailed
}

func asExitError(err error, target **ExitError) bool {
	for err != nil {
		if ee, ok := err.(*ExitError); ok { //nolint:errorlint // intentional: unwrap loop below covers wrapping
			*target = ee
			return true
		}

		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}

		err = u.Unwrap()
	}

	return false
}
