package multierr

import (
	e "errors"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

// MultiErr collects errors from multi-step operations such as teardown,
// where a failure in one step must not prevent the remaining steps from
// running.
type MultiErr struct {
	errors []error
}

func New() *MultiErr {
	return &MultiErr{}
}

// Add records err. Nil errors are ignored.
func (m *MultiErr) Add(err error) {
	if err != nil {
		m.errors = append(m.errors, err)
	}
}

// Err returns nil when no errors were recorded, the error itself when
// exactly one was recorded, and a combined error otherwise.
func (m *MultiErr) Err() error {
	switch len(m.errors) {
	case 0:
		return nil
	case 1:
		return m.errors[0]
	}

	var sb strings.Builder

	for i, err := range m.errors {
		sb.WriteString(fmt.Sprintf("\n%d. ", i+1))
		sb.WriteString(errors.ErrorStack(err))
	}

	return errors.Errorf("there were multiple errors:%s", sb.String())
}

// Is reports whether the cause of err matches target. It unwraps juju
// error annotations before comparing.
func Is(err, target error) bool {
	return e.Is(errors.Cause(err), target)
}
