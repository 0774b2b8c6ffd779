package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrtj/dynamodb-connection/store"
)

var (
	// ErrDependent is reported for the insert half of a key rename whose
	// delete failed. The insert is never issued.
	ErrDependent = errors.New("reconcile: skipped because the delete of the old key failed")

	// ErrCanceled is reported for rows that were not dispatched before the
	// commit was canceled.
	ErrCanceled = errors.New("reconcile: canceled before dispatch")
)

// ErrorKind classifies why a row failed.
type ErrorKind uint8

const (
	KindOther ErrorKind = iota
	KindNotFound
	KindConflict
	KindUnavailable
	KindInvalid
	KindDependent
	KindCanceled
)

var kindNames = [...]string{
	KindOther:       "other",
	KindNotFound:    "not_found",
	KindConflict:    "conflict",
	KindUnavailable: "unavailable",
	KindInvalid:     "invalid",
	KindDependent:   "dependent",
	KindCanceled:    "canceled",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindOther
	case errors.Is(err, ErrDependent):
		return KindDependent
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, store.ErrConflict):
		return KindConflict
	case errors.Is(err, store.ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, store.ErrKeyMismatch):
		return KindInvalid
	default:
		return KindOther
	}
}
