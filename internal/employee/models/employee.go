package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EmployeeStatus is the employment status of a record.
type EmployeeStatus string

const (
	EmployeeStatusActive     EmployeeStatus = "active"
	EmployeeStatusOnLeave    EmployeeStatus = "on_leave"
	EmployeeStatusTerminated EmployeeStatus = "terminated"
)

// Employee is the system-of-record row for one employee. Salary is fixed-point
// and never negative in any committed state.
type Employee struct {
	ID           int64
	FirstName    string
	LastName     string
	Email        string
	Salary       decimal.Decimal
	Company      string
	Position     string
	Status       EmployeeStatus
	DepartmentID *int64
	UpdatedAt    time.Time
}

// FullName returns "First Last", trimmed.
func (e *Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// Label identifies the employee in audit messages and logs.
func (e *Employee) Label() string {
	if name := e.FullName(); name != "" {
		return fmt.Sprintf("employee %d (%s)", e.ID, name)
	}
	return fmt.Sprintf("employee %d", e.ID)
}

// Clone returns a copy that shares no pointers with e.
func (e *Employee) Clone() *Employee {
	c := *e
	if e.DepartmentID != nil {
		dept := *e.DepartmentID
		c.DepartmentID = &dept
	}
	return &c
}

// NormalizeEmail lowercases and trims an address for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
