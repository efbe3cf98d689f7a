package progress

import (
	"errors"
	"fmt"
)

// ErrContentNotFound is returned when evaluation is asked about a phase or
// topic id absent from the curriculum. Completion records referencing unknown
// ids are silently ignored; being asked to evaluate an unknown id is a
// configuration error and propagates.
var ErrContentNotFound = errors.New("content not found")

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrContentNotFound, kind, id)
}
