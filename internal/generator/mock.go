package generator

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockReplyGenerator struct {
	mock.Mock
}

func (m *MockReplyGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}
