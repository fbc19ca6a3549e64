package models

import (
	"fmt"
	"strings"
)

// SelectorKind names how a batch picks employees.
type SelectorKind string

const (
	SelectByCompany    SelectorKind = "company"
	SelectByPosition   SelectorKind = "position"
	SelectNoDepartment SelectorKind = "no_department"
)

// Selector chooses the employees a batch operation applies to. Value is the
// company or position name and is ignored for SelectNoDepartment.
type Selector struct {
	Kind  SelectorKind
	Value string
}

func ByCompany(company string) Selector   { return Selector{Kind: SelectByCompany, Value: company} }
func ByPosition(position string) Selector { return Selector{Kind: SelectByPosition, Value: position} }
func WithoutDepartment() Selector         { return Selector{Kind: SelectNoDepartment} }

// Validate checks the selector is well formed.
func (s Selector) Validate() error {
	switch s.Kind {
	case SelectByCompany, SelectByPosition:
		if strings.TrimSpace(s.Value) == "" {
			return fmt.Errorf("selector %q requires a value", s.Kind)
		}
		return nil
	case SelectNoDepartment:
		return nil
	default:
		return fmt.Errorf("unknown selector kind %q", s.Kind)
	}
}

// Matches reports whether e is selected. Names compare case-insensitively.
func (s Selector) Matches(e *Employee) bool {
	switch s.Kind {
	case SelectByCompany:
		return strings.EqualFold(strings.TrimSpace(e.Company), strings.TrimSpace(s.Value))
	case SelectByPosition:
		return strings.EqualFold(strings.TrimSpace(e.Position), strings.TrimSpace(s.Value))
	case SelectNoDepartment:
		return e.DepartmentID == nil
	default:
		return false
	}
}

func (s Selector) String() string {
	if s.Kind == SelectNoDepartment {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s=%q", s.Kind, s.Value)
}
