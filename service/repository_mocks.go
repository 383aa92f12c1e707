package service

import (
	"context"

	"derby/models"

	"github.com/stretchr/testify/mock"
)

// MockPreferenceRepository is a mock implementation of PreferenceRepository
type MockPreferenceRepository struct {
	mock.Mock
}

func (m *MockPreferenceRepository) Get(ctx context.Context, store models.PreferenceStore, key string) (string, bool, error) {
	args := m.Called(ctx, store, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockPreferenceRepository) Set(ctx context.Context, store models.PreferenceStore, key, value string) error {
	args := m.Called(ctx, store, key, value)
	return args.Error(0)
}

// MockBalanceHistoryRepository is a mock implementation of BalanceHistoryRepository
type MockBalanceHistoryRepository struct {
	mock.Mock
}

func (m *MockBalanceHistoryRepository) Record(ctx context.Context, history *models.BalanceHistory) error {
	args := m.Called(ctx, history)
	return args.Error(0)
}

func (m *MockBalanceHistoryRepository) GetRecent(ctx context.Context, limit int) ([]*models.BalanceHistory, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.BalanceHistory), args.Error(1)
}

// MockUnitOfWork is a mock implementation of UnitOfWork
type MockUnitOfWork struct {
	mock.Mock
	preferenceRepo     PreferenceRepository
	balanceHistoryRepo BalanceHistoryRepository
}

// SetRepositories sets the repositories handed out by the unit of work
func (m *MockUnitOfWork) SetRepositories(preferenceRepo PreferenceRepository, balanceHistoryRepo BalanceHistoryRepository) {
	m.preferenceRepo = preferenceRepo
	m.balanceHistoryRepo = balanceHistoryRepo
}

func (m *MockUnitOfWork) Begin(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockUnitOfWork) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) PreferenceRepository() PreferenceRepository {
	return m.preferenceRepo
}

func (m *MockUnitOfWork) BalanceHistoryRepository() BalanceHistoryRepository {
	return m.balanceHistoryRepo
}

// MockUnitOfWorkFactory is a mock implementation of UnitOfWorkFactory
type MockUnitOfWorkFactory struct {
	mock.Mock
}

func (m *MockUnitOfWorkFactory) Create() UnitOfWork {
	args := m.Called()
	return args.Get(0).(UnitOfWork)
}

// MockMetrics is a mock implementation of Metrics
type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) RecordBetPlaced(amount int64)              { m.Called(amount) }
func (m *MockMetrics) RecordBetRejected(reason string)           { m.Called(reason) }
func (m *MockMetrics) RecordRaceStarted(stake int64)             { m.Called(stake) }
func (m *MockMetrics) RecordRaceFinished(winnings, losses int64) { m.Called(winnings, losses) }
func (m *MockMetrics) RecordAudioRecovery()                      { m.Called() }
func (m *MockMetrics) RecordFocusChange(change string)           { m.Called(change) }
