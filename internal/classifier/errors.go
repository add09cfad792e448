package classifier

import (
	"errors"
	"fmt"
)

// ErrInvalidK is returned when the neighbour count is outside 1..MaxK.
var ErrInvalidK = errors.New("invalid neighbour count")

// ConstructionError reports why a Classifier could not be built.
type ConstructionError struct {
	Field string
	Err   error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("constructing classifier: %s: %v", e.Field, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// ClassificationError reports a compression failure during a classify call.
// Index is the corpus entry being compared, or -1 for the query itself.
type ClassificationError struct {
	Index int
	Err   error
}

func (e *ClassificationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("classifying query: %v", e.Err)
	}
	return fmt.Sprintf("classifying query against entry %d: %v", e.Index, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}
