package store

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mrtj/dynamodb-connection/item"
)

var (
	// ErrNotFound is returned when the item doesn't exist.
	ErrNotFound = errors.New("store: item not found")

	// ErrConflict is returned when a write condition fails against an
	// existing item: it was created or modified concurrently.
	ErrConflict = errors.New("store: item was modified concurrently")

	// ErrUnavailable is returned when the table is throttled, the service
	// fails or the network is down, after all attempts are used.
	ErrUnavailable = errors.New("store: table unavailable")

	// ErrKeyMismatch is returned when an item's key attribute disagrees
	// with the key it is written under, or a change touches the key.
	ErrKeyMismatch = errors.New("store: key attribute mismatch")

	// ErrUnsupportedSchema is returned for tables with a sort key.
	ErrUnsupportedSchema = errors.New("store: only tables with a single partition key are supported")
)

// OpError records a failed store operation.
type OpError struct {
	Op       string
	Key      item.Key
	Attempts int
	Err      error
}

func (e *OpError) Error() string {
	if e.Key.IsZero() {
		return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

var retryables = retry.IsErrorRetryables(retry.DefaultRetryables)

// classify maps SDK errors onto the package sentinels, keeping the
// original error in the chain.
func classify(err error) error {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		// Writes ask for the old image on failure, so a missing image
		// means the item is absent.
		if condErr.Item == nil {
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}

	var (
		throughputErr *types.ProvisionedThroughputExceededException
		limitErr      *types.RequestLimitExceeded
		internalErr   *types.InternalServerError
	)
	if errors.As(err, &throughputErr) || errors.As(err, &limitErr) || errors.As(err, &internalErr) ||
		retryables.IsErrorRetryable(err) == aws.TrueTernary {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
