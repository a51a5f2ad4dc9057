package extraction

import (
	"context"

	"taxdesk/internal/extraction/oracle"
	"taxdesk/pkg/domain"

	"github.com/stretchr/testify/mock"
)

type MockBlobs struct {
	mock.Mock
}

func (m *MockBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type MockPDF struct {
	mock.Mock
}

func (m *MockPDF) ExtractText(ctx context.Context, data []byte) (string, error) {
	args := m.Called(ctx, data)
	return args.String(0), args.Error(1)
}

func (m *MockPDF) RasterizeFirstPage(ctx context.Context, data []byte) ([]byte, error) {
	args := m.Called(ctx, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) Extract(ctx context.Context, req oracle.Request) (domain.ExtractedData, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.ExtractedData), args.Error(1)
}

func variant(v oracle.Variant) interface{} {
	return mock.MatchedBy(func(r oracle.Request) bool { return r.Variant == v })
}

func field(v string, c float64) domain.ExtractedField {
	return domain.ExtractedField{Value: domain.StringValue(v), Confidence: c}
}
