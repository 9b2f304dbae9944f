// Package status maps saga failure causes to the stable codes persisted on
// orders and reported to operators.
package status

import "fmt"

// Cause is a symbolic saga outcome.
type Cause int

const (
	Registered Cause = iota
	Underpaid
	ChainQueryFailure
	DomainConflict
	InvalidDomainFormat
	DomainTooShort
	RegistrationExecutionFailure
	UnknownError
	CompletionRemarkFailure
)

// Entry is the persisted form of a cause.
type Entry struct {
	Code   int
	Reason string
}

var registry = map[Cause]Entry{
	Registered:                   {201, "Domain has been registered."},
	Underpaid:                    {30100, "Payment amount is lower than the registration price."},
	ChainQueryFailure:            {10100, "Buyer chain query failed."},
	DomainConflict:               {20100, "Domain is already registered by another account."},
	InvalidDomainFormat:          {20200, "Domain has an invalid format."},
	DomainTooShort:               {20300, "Domain is shorter than the minimum length."},
	RegistrationExecutionFailure: {20101, "Domain registration extrinsic failed."},
	UnknownError:                 {20102, "Unknown error during domain registration."},
	CompletionRemarkFailure:      {20103, "Registration completion remark could not be sent."},
}

// Lookup returns the code and reason of c. Unregistered causes map to UnknownError.
func Lookup(c Cause) Entry {
	if e, ok := registry[c]; ok {
		return e
	}
	return registry[UnknownError]
}

// Code is a shortcut for Lookup(c).Code.
func (c Cause) Code() int { return Lookup(c).Code }

// Reason is a shortcut for Lookup(c).Reason.
func (c Cause) Reason() string { return Lookup(c).Reason }

func (c Cause) String() string {
	switch c {
	case Registered:
		return "Registered"
	case Underpaid:
		return "Underpaid"
	case ChainQueryFailure:
		return "ChainQueryFailure"
	case DomainConflict:
		return "DomainConflict"
	case InvalidDomainFormat:
		return "InvalidDomainFormat"
	case DomainTooShort:
		return "DomainTooShort"
	case RegistrationExecutionFailure:
		return "RegistrationExecutionFailure"
	case UnknownError:
		return "UnknownError"
	case CompletionRemarkFailure:
		return "CompletionRemarkFailure"
	}
	return fmt.Sprintf("Cause(%d)", int(c))
}

// FromCode resolves a persisted code back to its cause.
func FromCode(code int) (Cause, bool) {
	for c, e := range registry {
		if e.Code == code {
			return c, true
		}
	}
	return UnknownError, false
}
