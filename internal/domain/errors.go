package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPathNotFound means a JSON path matched nothing
	ErrPathNotFound = errors.New("path not found")
	// ErrTypeMismatch means a JSON path matched a value of the wrong shape
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrNoRuleMatched means no date parser matched the raw text
	ErrNoRuleMatched = errors.New("no date rule matched")
	// ErrFetch aborts the fetch of a whole source
	ErrFetch = errors.New("fetch failed")
	// ErrPersistence covers cache read and write failures
	ErrPersistence = errors.New("persistence failed")
	// ErrSync covers remote synchronization failures
	ErrSync = errors.New("synchronization failed")
	// ErrUnknownSource means no descriptor is loaded under that name
	ErrUnknownSource = errors.New("unknown source")
	// ErrRecordNotFound means the dataset has no roadwork with that identifier
	ErrRecordNotFound = errors.New("roadwork not found")
)

// BuildErrorKind tells which step of record construction failed
type BuildErrorKind int

const (
	MissingField BuildErrorKind = iota
	PathError
	DateError
	InvalidRecord
)

func (k BuildErrorKind) String() string {
	switch k {
	case MissingField:
		return "missing field"
	case PathError:
		return "path error"
	case DateError:
		return "date error"
	case InvalidRecord:
		return "invalid record"
	default:
		return "build error"
	}
}

// BuildError is returned when one JSON node cannot become a Roadwork
type BuildError struct {
	Kind  BuildErrorKind
	Field string
	Err   error
}

func (e *BuildError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Field)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Field, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// IsBuildError reports whether err carries a BuildError
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}
