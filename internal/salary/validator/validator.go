// Package validator holds the salary change business rules. It performs no
// I/O and never mutates its inputs.
package validator

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Rule identifies which business rule a proposed salary violated.
type Rule string

const (
	RuleNegative      Rule = "negative_salary"
	RuleAboveMaximum  Rule = "above_maximum"
	RuleZeroBase      Rule = "zero_base_increase"
	RuleIncreaseLimit Rule = "increase_limit"
	RuleDecreaseLimit Rule = "decrease_limit"
)

var hundred = decimal.NewFromInt(100)

// Policy holds the configurable bounds.
type Policy struct {
	MaxSalary          decimal.Decimal
	MaxIncreasePercent decimal.Decimal
	MaxDecreasePercent decimal.Decimal
}

// DefaultPolicy returns the standard bounds: salaries up to 1,000,000, raises
// up to +100% and cuts up to -50% per change.
func DefaultPolicy() Policy {
	return Policy{
		MaxSalary:          decimal.NewFromInt(1_000_000),
		MaxIncreasePercent: decimal.NewFromInt(100),
		MaxDecreasePercent: decimal.NewFromInt(50),
	}
}

// Violation is returned when a proposed salary breaks a rule. It carries the
// numbers the caller needs to explain the rejection.
type Violation struct {
	Rule   Rule
	Old    decimal.Decimal
	New    decimal.Decimal
	Reason string
}

func (v *Violation) Error() string {
	return v.Reason
}

// Validator checks (old, new) salary pairs against a Policy.
type Validator struct {
	policy Policy
}

// New creates a validator. Zero-valued policy fields fall back to the defaults.
func New(policy Policy) *Validator {
	def := DefaultPolicy()
	if policy.MaxSalary.IsZero() {
		policy.MaxSalary = def.MaxSalary
	}
	if policy.MaxIncreasePercent.IsZero() {
		policy.MaxIncreasePercent = def.MaxIncreasePercent
	}
	if policy.MaxDecreasePercent.IsZero() {
		policy.MaxDecreasePercent = def.MaxDecreasePercent
	}
	return &Validator{policy: policy}
}

// Policy returns the bounds in effect.
func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate returns nil when newSalary is acceptable for an employee currently
// earning oldSalary, or a *Violation for the first rule broken. Rules are
// checked in order: non-negative, maximum, then the percentage bounds.
func (v *Validator) Validate(oldSalary, newSalary decimal.Decimal) error {
	if newSalary.IsNegative() {
		return v.violation(RuleNegative, oldSalary, newSalary,
			fmt.Sprintf("salary cannot be negative: %s", newSalary.StringFixed(2)))
	}
	if newSalary.GreaterThan(v.policy.MaxSalary) {
		return v.violation(RuleAboveMaximum, oldSalary, newSalary,
			fmt.Sprintf("salary %s exceeds maximum allowed %s",
				newSalary.StringFixed(2), v.policy.MaxSalary.StringFixed(2)))
	}

	if oldSalary.IsZero() {
		if newSalary.IsPositive() {
			return v.violation(RuleZeroBase, oldSalary, newSalary,
				fmt.Sprintf("cannot compute percentage change from a zero salary to %s", newSalary.StringFixed(2)))
		}
		return nil
	}

	pct := ChangePercent(oldSalary, newSalary)
	if pct.GreaterThan(v.policy.MaxIncreasePercent) {
		return v.violation(RuleIncreaseLimit, oldSalary, newSalary,
			fmt.Sprintf("salary increase of %s%% exceeds maximum allowed %s%% (from %s to %s)",
				pct.StringFixed(2), v.policy.MaxIncreasePercent.String(),
				oldSalary.StringFixed(2), newSalary.StringFixed(2)))
	}
	if pct.Neg().GreaterThan(v.policy.MaxDecreasePercent) {
		return v.violation(RuleDecreaseLimit, oldSalary, newSalary,
			fmt.Sprintf("salary decrease of %s%% exceeds maximum allowed %s%% (from %s to %s)",
				pct.Neg().StringFixed(2), v.policy.MaxDecreasePercent.String(),
				oldSalary.StringFixed(2), newSalary.StringFixed(2)))
	}
	return nil
}

func (v *Validator) violation(rule Rule, oldSalary, newSalary decimal.Decimal, reason string) *Violation {
	return &Violation{Rule: rule, Old: oldSalary, New: newSalary, Reason: reason}
}

// ChangePercent returns (new-old)/old*100. oldSalary must be non-zero.
func ChangePercent(oldSalary, newSalary decimal.Decimal) decimal.Decimal {
	return newSalary.Sub(oldSalary).Mul(hundred).Div(oldSalary)
}
