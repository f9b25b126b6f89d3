package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/mileage-reports-back/internal/domain"
	"github.com/iago/mileage-reports-back/internal/repository"
)

func day(value string) time.Time {
	t, err := time.Parse(domain.DateLayout, value)
	if err != nil {
		panic(err)
	}
	return t
}

func januaryJob(t *testing.T) *domain.ReportJob {
	t.Helper()
	period, err := domain.ParseDateRange("2024-01-01", "2024-01-31")
	require.NoError(t, err)
	return &domain.ReportJob{ID: "job-1", UserID: "user-1", Period: period, Status: domain.ReportStatusProcessing}
}

func seededLedger() *repository.MemoryLedger {
	ledger := repository.NewMemoryLedger()
	ledger.PutEmployee(domain.Employee{UserID: "user-1", FullName: "Ana Souza", EmployeeNumber: "E-42"})
	rate := decimal.RequireFromString("0.65")
	ledger.AddTrip("user-1", domain.TripRecord{
		ID: "trip-1", Date: day("2024-01-05"), Purpose: "Client visit", Origin: "Office", Destination: "Client HQ",
		Status: domain.TripStatusCompleted, Miles: decimal.NewFromInt(100), RatePerMile: rate, Vehicle: "Fleet Sedan 12",
		Expenses: []domain.ExpenseRecord{{
			ID: "exp-1", TripID: "trip-1", Date: day("2024-01-05"), Category: "Parking",
			Description: "Garage", Amount: decimal.RequireFromString("20.00"),
		}},
	})
	ledger.AddTrip("user-1", domain.TripRecord{
		ID: "trip-2", Date: day("2024-01-20"), Purpose: "Site survey", Origin: "Office", Destination: "Plant",
		Status: domain.TripStatusCompleted, Miles: decimal.NewFromInt(150), RatePerMile: rate,
	})
	ledger.AddTrip("user-1", domain.TripRecord{
		ID: "trip-3", Date: day("2024-01-25"), Purpose: "Unfinished", Status: domain.TripStatusDraft,
		Miles: decimal.NewFromInt(999), RatePerMile: rate,
	})
	ledger.AddTrip("user-1", domain.TripRecord{
		ID: "trip-4", Date: day("2024-02-02"), Purpose: "Next month", Status: domain.TripStatusCompleted,
		Miles: decimal.NewFromInt(10), RatePerMile: rate,
	})
	return ledger
}

func TestBuilderAggregatesTotals(t *testing.T) {
	builder := NewBuilder(seededLedger())
	builder.now = func() time.Time { return time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC) }

	data, err := builder.Build(context.Background(), januaryJob(t))
	require.NoError(t, err)

	assert.Equal(t, "job-1", data.JobID)
	assert.Equal(t, "Ana Souza", data.Employee.FullName)
	require.Len(t, data.Trips, 2)
	assert.Equal(t, "Office - Client HQ", data.Trips[0].Route)
	assert.Equal(t, "65.00", data.Trips[0].MileageAmount.StringFixed(2))
	require.Len(t, data.Expenses, 1)

	assert.Equal(t, "250", data.TotalMiles.String())
	assert.Equal(t, "162.50", data.TotalMileageAmount.StringFixed(2))
	assert.Equal(t, "20.00", data.TotalExpenseAmount.StringFixed(2))
	assert.Equal(t, "182.50", data.GrandTotal.StringFixed(2))

	require.Len(t, data.CategoryTotals, 1)
	assert.Equal(t, "Parking", data.CategoryTotals[0].Category)
	assert.Equal(t, "20.00", data.CategoryTotals[0].Amount.StringFixed(2))
}

func TestBuilderDefaultsUnknownEmployeeAndCategory(t *testing.T) {
	ledger := repository.NewMemoryLedger()
	ledger.AddTrip("user-9", domain.TripRecord{
		ID: "trip-1", Date: day("2024-01-03"), Status: domain.TripStatusCompleted,
		Miles: decimal.RequireFromString("12.5"), RatePerMile: decimal.RequireFromString("0.655"),
		Expenses: []domain.ExpenseRecord{
			{ID: "a", Amount: decimal.RequireFromString("3.10")},
			{ID: "b", Category: "Tolls", Amount: decimal.RequireFromString("4.00")},
			{ID: "c", Amount: decimal.RequireFromString("1.90")},
		},
	})
	job := januaryJob(t)
	job.UserID = "user-9"

	data, err := NewBuilder(ledger).Build(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, "user-9", data.Employee.UserID)
	assert.Equal(t, "8.19", data.TotalMileageAmount.StringFixed(2))
	require.Len(t, data.CategoryTotals, 2)
	assert.Equal(t, "Tolls", data.CategoryTotals[0].Category)
	assert.Equal(t, uncategorized, data.CategoryTotals[1].Category)
	assert.Equal(t, "5.00", data.CategoryTotals[1].Amount.StringFixed(2))
	assert.Equal(t, "17.19", data.GrandTotal.StringFixed(2))
}

func TestPDFRendererProducesDocument(t *testing.T) {
	builder := NewBuilder(seededLedger())
	data, err := builder.Build(context.Background(), januaryJob(t))
	require.NoError(t, err)

	out, err := NewPDFRenderer().Render(data)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
	assert.Greater(t, len(out), 500)
}

func TestTripCellsIncludeVehicle(t *testing.T) {
	data, err := NewBuilder(seededLedger()).Build(context.Background(), januaryJob(t))
	require.NoError(t, err)
	require.Len(t, data.Trips, 2)

	first := tripCells(data.Trips[0])
	require.Len(t, first, len(tripColumns))
	assert.Equal(t, "Vehicle", tripColumns[2].title)
	assert.Equal(t, "Fleet Sedan 12", first[2])
	assert.Equal(t, "Office - Client HQ", first[3])
	assert.Equal(t, "$65.00", first[6])

	assert.Equal(t, "-", tripCells(data.Trips[1])[2])
}

func TestPDFRendererHandlesEmptyPeriod(t *testing.T) {
	period, err := domain.ParseDateRange("2023-06-01", "2023-06-30")
	require.NoError(t, err)

	out, err := NewPDFRenderer().Render(domain.ReportData{
		JobID:       "job-empty",
		Employee:    domain.Employee{UserID: "user-1"},
		Period:      period,
		GeneratedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}
