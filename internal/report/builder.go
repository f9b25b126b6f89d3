// Package report turns ledger rows into a report snapshot and renders it.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iago/mileage-reports-back/internal/domain"
	"github.com/iago/mileage-reports-back/internal/repository"
)

const uncategorized = "Uncategorized"

// Builder assembles ReportData for a job. The snapshot is computed from the
// ledger at call time and never cached.
type Builder struct {
	ledger repository.LedgerReader
	now    func() time.Time
}

func NewBuilder(ledger repository.LedgerReader) *Builder {
	return &Builder{ledger: ledger, now: time.Now}
}

func (b *Builder) Build(ctx context.Context, job *domain.ReportJob) (domain.ReportData, error) {
	employee, err := b.ledger.GetEmployee(ctx, job.UserID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return domain.ReportData{}, fmt.Errorf("load employee %s: %w", job.UserID, err)
		}
		employee = domain.Employee{UserID: job.UserID}
	}

	trips, err := b.ledger.ListTrips(ctx, job.UserID, job.Period)
	if err != nil {
		return domain.ReportData{}, fmt.Errorf("list trips for %s: %w", job.UserID, err)
	}

	data := domain.ReportData{
		JobID:              job.ID,
		Employee:           employee,
		Period:             job.Period,
		GeneratedAt:        b.now().UTC(),
		Trips:              make([]domain.TripLine, 0, len(trips)),
		Expenses:           make([]domain.ExpenseLine, 0),
		TotalMiles:         decimal.Zero,
		TotalMileageAmount: decimal.Zero,
		TotalExpenseAmount: decimal.Zero,
	}

	byCategory := make(map[string]decimal.Decimal)
	for _, trip := range trips {
		// Drafts are still being edited and are not reimbursable.
		if trip.Status != domain.TripStatusCompleted {
			continue
		}

		amount := trip.Miles.Mul(trip.RatePerMile).Round(2)
		data.Trips = append(data.Trips, domain.TripLine{
			TripID:        trip.ID,
			Date:          trip.Date,
			Purpose:       trip.Purpose,
			Route:         route(trip.Origin, trip.Destination),
			Vehicle:       trip.Vehicle,
			Miles:         trip.Miles,
			RatePerMile:   trip.RatePerMile,
			MileageAmount: amount,
		})
		data.TotalMiles = data.TotalMiles.Add(trip.Miles)
		data.TotalMileageAmount = data.TotalMileageAmount.Add(amount)

		for _, expense := range trip.Expenses {
			category := expense.Category
			if category == "" {
				category = uncategorized
			}
			amount := expense.Amount.Round(2)
			data.Expenses = append(data.Expenses, domain.ExpenseLine{
				ExpenseID:   expense.ID,
				TripID:      trip.ID,
				Date:        expense.Date,
				Category:    category,
				Description: expense.Description,
				Amount:      amount,
			})
			data.TotalExpenseAmount = data.TotalExpenseAmount.Add(amount)
			byCategory[category] = byCategory[category].Add(amount)
		}
	}

	data.CategoryTotals = categoryTotals(byCategory)
	data.GrandTotal = data.TotalMileageAmount.Add(data.TotalExpenseAmount)
	return data, nil
}

func categoryTotals(byCategory map[string]decimal.Decimal) []domain.CategoryTotal {
	totals := make([]domain.CategoryTotal, 0, len(byCategory))
	for category, amount := range byCategory {
		totals = append(totals, domain.CategoryTotal{Category: category, Amount: amount})
	}
	sort.Slice(totals, func(i, j int) bool {
		return totals[i].Category < totals[j].Category
	})
	return totals
}

func route(origin, destination string) string {
	switch {
	case origin == "" && destination == "":
		return ""
	case origin == "":
		return destination
	case destination == "":
		return origin
	default:
		return origin + " - " + destination
	}
}
