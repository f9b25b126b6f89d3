package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iago/mileage-reports-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresLedger reads the ledger tables maintained by the trips/expenses service.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) GetEmployee(ctx context.Context, userID string) (domain.Employee, error) {
	employee := domain.Employee{UserID: userID}
	err := l.pool.QueryRow(ctx, `
		SELECT full_name, email, COALESCE(employee_number, ''), COALESCE(department, '')
		FROM users
		WHERE id::text = $1
	`, userID).Scan(&employee.FullName, &employee.Email, &employee.EmployeeNumber, &employee.Department)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Employee{}, ErrNotFound
		}
		return domain.Employee{}, fmt.Errorf("query employee: %w", err)
	}
	return employee, nil
}

// ListTrips returns the user's trips in the period with their linked expenses,
// ordered by trip date. Numeric columns are read as text to keep exact decimals.
func (l *PostgresLedger) ListTrips(
	ctx context.Context,
	userID string,
	period domain.DateRange,
) ([]domain.TripRecord, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT
			t.id::text,
			t.trip_date,
			COALESCE(t.purpose, ''),
			COALESCE(t.origin_label, ''),
			COALESCE(t.destination_label, ''),
			COALESCE(v.label, ''),
			t.status,
			t.miles::text,
			COALESCE(r.rate_per_mile, 0)::text,
			e.id::text,
			e.expense_date,
			COALESCE(e.category, ''),
			COALESCE(e.description, ''),
			e.amount::text
		FROM trips t
		LEFT JOIN vehicles v ON v.id = t.vehicle_id
		LEFT JOIN mileage_rates r ON r.id = t.rate_id
		LEFT JOIN expenses e ON e.trip_id = t.id
		WHERE t.user_id::text = $1
			AND t.trip_date BETWEEN $2 AND $3
		ORDER BY t.trip_date ASC, t.id ASC, e.expense_date ASC NULLS LAST
	`, userID, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	trips := make([]domain.TripRecord, 0)
	index := make(map[string]int)
	for rows.Next() {
		var (
			trip            domain.TripRecord
			status          string
			miles, rate     string
			expenseID       *string
			expenseDate     *time.Time
			category, descr string
			expenseAmount   *string
		)
		if err := rows.Scan(
			&trip.ID,
			&trip.Date,
			&trip.Purpose,
			&trip.Origin,
			&trip.Destination,
			&trip.Vehicle,
			&status,
			&miles,
			&rate,
			&expenseID,
			&expenseDate,
			&category,
			&descr,
			&expenseAmount,
		); err != nil {
			return nil, fmt.Errorf("scan trip row: %w", err)
		}

		position, seen := index[trip.ID]
		if !seen {
			trip.Status = domain.TripStatus(status)
			if trip.Miles, err = decimal.NewFromString(miles); err != nil {
				return nil, fmt.Errorf("parse miles for trip %s: %w", trip.ID, err)
			}
			if trip.RatePerMile, err = decimal.NewFromString(rate); err != nil {
				return nil, fmt.Errorf("parse rate for trip %s: %w", trip.ID, err)
			}
			trips = append(trips, trip)
			position = len(trips) - 1
			index[trip.ID] = position
		}

		if expenseID == nil {
			continue
		}
		expense := domain.ExpenseRecord{
			ID:          *expenseID,
			TripID:      trips[position].ID,
			Category:    category,
			Description: descr,
		}
		if expenseDate != nil {
			expense.Date = *expenseDate
		}
		if expenseAmount != nil {
			if expense.Amount, err = decimal.NewFromString(*expenseAmount); err != nil {
				return nil, fmt.Errorf("parse amount for expense %s: %w", expense.ID, err)
			}
		}
		trips[position].Expenses = append(trips[position].Expenses, expense)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate trips: %w", rows.Err())
	}
	return trips, nil
}
