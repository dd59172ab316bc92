package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/contox/cli/cmd/contox/cli/credentials"
	"github.com/contox/cli/cmd/contox/cli/ingest"
)

// SilentError wraps an error whose message has already been shown to the
// user. main prints nothing for it and exits non-zero.
type SilentError struct {
	Err error
}

// NewSilentError wraps err.
func NewSilentError(err error) *SilentError {
	return &SilentError{Err: err}
}

func (e *SilentError) Error() string {
	return e.Err.Error()
}

func (e *SilentError) Unwrap() error {
	return e.Err
}

// errNotConfigured is returned when settings carry no project id.
var errNotConfigured = errors.New("no project configured")

// reportSendError prints err with setup guidance when it is a credential or
// configuration problem, and returns it wrapped as a SilentError.
func reportSendError(w io.Writer, action string, err error) error {
	switch {
	case errors.Is(err, credentials.ErrMissingToken):
		fmt.Fprintf(w, "%s failed: no API token configured.\nRun `contox init` or set CONTOX_API_KEY.\n", action)
	case ingest.IsCredentialError(err):
		fmt.Fprintf(w, "%s failed: the project signing secret is unavailable.\nRun `contox init` or set CONTOX_HMAC_SECRET.\n", action)
	case errors.Is(err, errNotConfigured):
		fmt.Fprintf(w, "%s failed: this repository is not linked to a project.\nRun `contox init`.\n", action)
	default:
		fmt.Fprintf(w, "%s failed: %v\n", action, err)
	}
	return NewSilentError(err)
}
