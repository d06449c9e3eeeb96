package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"www.github.com/Wanderer0074348/SemCache/src/models"
)

// MockStore implements models.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Nearest(ctx context.Context, vector []float32, k int) ([]models.ScoredRecord, error) {
	args := m.Called(ctx, vector, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ScoredRecord), args.Error(1)
}

func (m *MockStore) Insert(ctx context.Context, record *models.VectorRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockStore) Get(ctx context.Context, key string) (*models.VectorRecord, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VectorRecord), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) DeleteOldest(ctx context.Context, k int) (int, error) {
	args := m.Called(ctx, k)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) Size(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockCheckpointStore is a MockStore that also implements models.Checkpointer
type MockCheckpointStore struct {
	MockStore
}

func (m *MockCheckpointStore) Checkpoint(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockEmbedder implements models.Embedder
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbedder) Model() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockEmbedder) Dimension() int {
	args := m.Called()
	return args.Int(0)
}
