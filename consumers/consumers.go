// Package consumers holds the business state machines that apply decoded
// attestation payloads. Each consumer validates a payload completely before
// changing any state, so a rejected payload leaves it untouched.
package consumers

import (
	"errors"
	"fmt"
)

// ErrBusinessRule is matched by every *Violation.
var ErrBusinessRule = errors.New("business rule violation")

// Violation is a payload or transition a consumer refused.
type Violation struct {
	Consumer string
	Rule     string
	Detail   string
}

func (v *Violation) Error() string {
	if v.Detail == "" {
		return fmt.Sprintf("%s: %v: %s", v.Consumer, ErrBusinessRule, v.Rule)
	}
	return fmt.Sprintf("%s: %v: %s: %s", v.Consumer, ErrBusinessRule, v.Rule, v.Detail)
}

func (v *Violation) Is(target error) bool {
	return target == ErrBusinessRule
}

// Violate builds a Violation with a formatted detail.
func Violate(consumer, rule, format string, args ...any) *Violation {
	return &Violation{Consumer: consumer, Rule: rule, Detail: fmt.Sprintf(format, args...)}
}
