package layout

import "errors"

var (
	// ErrNotFound is returned when a space has no stored layout.
	ErrNotFound = errors.New("layout not found")

	// ErrStoreNotExist is returned by Store.Load when nothing was ever
	// persisted. The repository answers it by writing the initial state.
	ErrStoreNotExist = errors.New("layout store does not exist")
)

// PersistenceError reports that the durable store could not be read or
// written. When Save returns one, the in-memory state is unchanged.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "layout store " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err is (or wraps) a *PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
