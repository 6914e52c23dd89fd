package domain

import "errors"

var (
	// ErrInvalidTransition is returned for state changes the model does not allow,
	// such as confirming an absent field or moving a finished call.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrAlreadyBooked means the lead already owns its single viewing.
	ErrAlreadyBooked = errors.New("viewing already booked")
	// ErrDuplicateDelivery means an end-of-call update token was already consumed.
	ErrDuplicateDelivery = errors.New("end-of-call update already applied")
	// ErrViewingIncomplete means viewing date or time is missing.
	ErrViewingIncomplete = errors.New("viewing date and time are required")
	ErrUnknownField      = errors.New("unknown field")
	ErrInvalidValue      = errors.New("invalid field value")
)
