package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"paycore/internal/employee/models"
	"paycore/pkg/platform/sentinel"
)

// demoEmployees is loaded when database.seed_demo_data is set. Emails are
// unique so reseeding an existing database is a no-op.
var demoEmployees = []models.Employee{
	{FirstName: "Ada", LastName: "Lovelace", Email: "ada@acme.test", Salary: decimal.RequireFromString("85000.00"), Company: "Acme", Position: "Engineer"},
	{FirstName: "Grace", LastName: "Hopper", Email: "grace@acme.test", Salary: decimal.RequireFromString("950000.00"), Company: "Acme", Position: "Admiral"},
	{FirstName: "Alan", LastName: "Turing", Email: "alan@acme.test", Salary: decimal.RequireFromString("72000.00"), Company: "Acme", Position: "Engineer"},
	{FirstName: "Edsger", LastName: "Dijkstra", Email: "edsger@globex.test", Salary: decimal.RequireFromString("91000.00"), Company: "Globex", Position: "Engineer"},
	{FirstName: "Barbara", LastName: "Liskov", Email: "barbara@globex.test", Salary: decimal.RequireFromString("99000.00"), Company: "Globex", Position: "Architect"},
}

func seedDemoData(ctx context.Context, employees employeeStore, log *slog.Logger) error {
	created := 0
	for _, e := range demoEmployees {
		emp := e
		if _, err := employees.Create(ctx, &emp); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				continue
			}
			return err
		}
		created++
	}
	log.Info("demo data seeded", "created", created, "total", len(demoEmployees))
	return nil
}
