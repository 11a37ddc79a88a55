// Package models holds the data types shared by every stage of an inventory
// scan: record status, capability selection, scan records and scan settings.
package models

import "errors"

// Status is the lifecycle state of one scan record.
type Status string

const (
	StatusPending      Status = "Pending"
	StatusProbing      Status = "Probing"
	StatusNotReachable Status = "NotReachable"
	StatusQuerying     Status = "Querying"
	StatusComplete     Status = "Complete"
	StatusError        Status = "Error"
	StatusCancelled    Status = "Cancelled"
	StatusInvalid      Status = "Invalid"
)

var (
	// ErrTerminal is returned when a terminal record is asked to change.
	ErrTerminal = errors.New("record is already terminal")
	// ErrTransition is returned for a status change the lifecycle forbids.
	ErrTransition = errors.New("status transition not allowed")
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending, StatusProbing, StatusNotReachable, StatusQuerying,
	StatusComplete, StatusError, StatusCancelled, StatusInvalid,
}

var transitions = map[Status][]Status{
	StatusPending:  {StatusProbing, StatusCancelled, StatusError},
	StatusProbing:  {StatusNotReachable, StatusQuerying, StatusCancelled, StatusError},
	StatusQuerying: {StatusComplete, StatusError, StatusCancelled},
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusNotReachable, StatusComplete, StatusError, StatusCancelled, StatusInvalid:
		return true
	default:
		return false
	}
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is part of the status vocabulary.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}
