package cache

import (
	"strconv"
	"strings"

	"github.com/oneconcern/datacache/pkg/location"
)

// Operations reported by errors
const (
	OpInit          = "init"
	OpPath          = "path"
	OpCommit        = "commit"
	OpCommitChanged = "commit-changed"
	OpDelete        = "delete"
	OpRegister      = "register"
)

// Error reports a failed cache operation, with the key and location it applied to.
//
// The cause is one of the sentinel errors of pkg/cache/status, possibly wrapping
// an error from the storage or the local file system.
type Error struct {
	Op       string
	Key      string
	Location location.Location
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("datacache: ")
	b.WriteString(e.Op)
	if e.Key != "" {
		b.WriteString(" ")
		b.WriteString(strconv.Quote(e.Key))
	}
	if !e.Location.IsZero() {
		b.WriteString(" (")
		b.WriteString(e.Location.String())
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap the cause
func (e *Error) Unwrap() error {
	return e.Err
}
