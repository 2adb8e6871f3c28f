package models

import "errors"

// Operation errors surfaced to the request layer. Conflict-class errors mean
// a race was lost or a terminal entity was touched again; policy errors mean
// the operation is valid but desk rules forbid it right now.
var (
	ErrAlreadyBorrowed       = errors.New("title is already checked out")
	ErrNotActive             = errors.New("loan is not active")
	ErrAlreadyResolved       = errors.New("request has already been resolved")
	ErrRenewalDenied         = errors.New("renewal denied by overdue policy")
	ErrDuplicateReservation  = errors.New("user already has a reservation for this title")
	ErrReservationNotAllowed = errors.New("title is on the shelf; borrow it instead of reserving")
	ErrInvalidState          = errors.New("operation not allowed in the current state")
	ErrStaffRequired         = errors.New("staff account required")
)
