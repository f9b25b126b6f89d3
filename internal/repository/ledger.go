package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/iago/mileage-reports-back/internal/domain"
)

// LedgerReader is the read-only view of trips and expenses owned by the ledger CRUD service.
type LedgerReader interface {
	GetEmployee(ctx context.Context, userID string) (domain.Employee, error)
	ListTrips(ctx context.Context, userID string, period domain.DateRange) ([]domain.TripRecord, error)
}

// MemoryLedger is an in-memory LedgerReader used by tests and local runs.
type MemoryLedger struct {
	mu        sync.RWMutex
	employees map[string]domain.Employee
	trips     map[string][]domain.TripRecord
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		employees: make(map[string]domain.Employee),
		trips:     make(map[string][]domain.TripRecord),
	}
}

func (l *MemoryLedger) PutEmployee(employee domain.Employee) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.employees[employee.UserID] = employee
}

func (l *MemoryLedger) AddTrip(userID string, trip domain.TripRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trips[userID] = append(l.trips[userID], trip)
}

func (l *MemoryLedger) GetEmployee(_ context.Context, userID string) (domain.Employee, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	employee, ok := l.employees[userID]
	if !ok {
		return domain.Employee{}, ErrNotFound
	}
	return employee, nil
}

func (l *MemoryLedger) ListTrips(
	_ context.Context,
	userID string,
	period domain.DateRange,
) ([]domain.TripRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	items := make([]domain.TripRecord, 0)
	for _, trip := range l.trips[userID] {
		if trip.Date.Before(period.Start) || trip.Date.After(period.End) {
			continue
		}
		copied := trip
		copied.Expenses = append([]domain.ExpenseRecord(nil), trip.Expenses...)
		items = append(items, copied)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Date.Before(items[j].Date)
	})
	return items, nil
}
