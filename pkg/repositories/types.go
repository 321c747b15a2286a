package repositories

import "errors"

type ErrNotFound struct {
	Slot string
}

func (e *ErrNotFound) Error() string {
	if e.Slot == "" {
		return "not found"
	}
	return "save slot not found: " + e.Slot
}

func IsNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}
