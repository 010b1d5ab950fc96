package engine

import "errors"

var (
	// ErrNotFound is returned when a contact or reminder id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCadence means a communication frequency outside the five known values.
	ErrInvalidCadence = errors.New("invalid communication frequency")

	// ErrNeverContacted is returned by DaysOverdue for a contact without a last contact date.
	ErrNeverContacted = errors.New("contact has never been contacted")

	// ErrDuplicatePending is returned by stores when a second pending reminder of the
	// same type would be created for a contact.
	ErrDuplicatePending = errors.New("pending reminder of this type already exists for contact")

	ErrInvalidTransition = errors.New("invalid reminder status transition")
	ErrInvalidMessage    = errors.New("invalid reminder")
	ErrInvalidMonthDay   = errors.New("invalid month-day")
	ErrInvalidWindow     = errors.New("invalid day window")
)

// ContactFailure records a contact whose reconciliation failed during a batch sweep.
type ContactFailure struct {
	ContactID string
	Err       error
}

func (f ContactFailure) Error() string {
	return f.ContactID + ": " + f.Err.Error()
}

func (f ContactFailure) Unwrap() error {
	return f.Err
}

// MarshalText lets failures render as plain strings in JSON responses.
func (f ContactFailure) MarshalText() ([]byte, error) {
	return []byte(f.Error()), nil
}
