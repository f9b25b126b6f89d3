package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Employee is the identity block printed on a report.
type Employee struct {
	UserID         string
	FullName       string
	Email          string
	EmployeeNumber string
	Department     string
}

type TripStatus string

const (
	TripStatusDraft     TripStatus = "draft"
	TripStatusCompleted TripStatus = "completed"
)

// TripRecord is a trip row as read from the ledger, with its linked expenses.
type TripRecord struct {
	ID          string
	Date        time.Time
	Purpose     string
	Origin      string
	Destination string
	Vehicle     string
	Status      TripStatus
	Miles       decimal.Decimal
	RatePerMile decimal.Decimal
	Expenses    []ExpenseRecord
}

type ExpenseRecord struct {
	ID          string
	TripID      string
	Date        time.Time
	Category    string
	Description string
	Amount      decimal.Decimal
}

// ReportData is a point-in-time snapshot rendered into a report. It is rebuilt
// on every render and never stored.
type ReportData struct {
	JobID       string
	Employee    Employee
	Period      DateRange
	GeneratedAt time.Time

	Trips          []TripLine
	Expenses       []ExpenseLine
	CategoryTotals []CategoryTotal

	TotalMiles         decimal.Decimal
	TotalMileageAmount decimal.Decimal
	TotalExpenseAmount decimal.Decimal
	GrandTotal         decimal.Decimal
}

type TripLine struct {
	TripID        string
	Date          time.Time
	Purpose       string
	Route         string
	Vehicle       string
	Miles         decimal.Decimal
	RatePerMile   decimal.Decimal
	MileageAmount decimal.Decimal
}

type ExpenseLine struct {
	ExpenseID   string
	TripID      string
	Date        time.Time
	Category    string
	Description string
	Amount      decimal.Decimal
}

type CategoryTotal struct {
	Category string
	Amount   decimal.Decimal
}
