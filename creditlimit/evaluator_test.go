package creditlimit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSummaryStore struct {
	mock.Mock
}

func (m *mockSummaryStore) CreditSummary(ctx context.Context, userID int64) (CreditSummary, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(CreditSummary), args.Error(1)
}

type decisionCounter struct {
	approved, rejected int
}

func (d *decisionCounter) RecordDecision(approved bool) {
	if approved {
		d.approved++
	} else {
		d.rejected++
	}
}

func TestNewEvaluator(t *testing.T) {
	_, err := NewEvaluator(nil)
	assert.Error(t, err)

	_, err = NewEvaluator(&mockSummaryStore{}, WithMaxCreditToSalaryRatio(0))
	assert.Error(t, err)

	e, err := NewEvaluator(&mockSummaryStore{}, WithMaxCreditToSalaryRatio(1.5))
	require.NoError(t, err)
	assert.Equal(t, int64(150_000), e.Limit(100_000))
}

func TestEvaluate(t *testing.T) {
	summary := CreditSummary{Salary: 500_000, ExistingCreditCardBalances: 400_000}

	tests := []struct {
		name     string
		req      CheckRequest
		summary  CreditSummary
		storeErr error
		approved bool
		reason   string
	}{
		{
			name:     "within limit",
			req:      CheckRequest{UserID: 7, ProposedNewCardBalance: 100_000},
			summary:  summary,
			approved: true,
		},
		{
			name:     "exactly at limit",
			req:      CheckRequest{UserID: 7, ProposedNewCardBalance: 600_000},
			summary:  CreditSummary{Salary: 500_000, ExistingCreditCardBalances: 400_000},
			approved: true,
		},
		{
			name:    "over limit",
			req:     CheckRequest{UserID: 7, ProposedNewCardBalance: 600_001},
			summary: summary,
			reason:  "total credit card balances 1000001 would exceed limit 1000000",
		},
		{
			name:     "unknown user",
			req:      CheckRequest{UserID: 8, ProposedNewCardBalance: 1},
			storeErr: ErrUserNotFound,
			reason:   ReasonUserNotFound,
		},
		{
			name:     "store failure fails closed",
			req:      CheckRequest{UserID: 9, ProposedNewCardBalance: 1},
			storeErr: errors.New("connection reset"),
			reason:   ReasonSummaryUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockSummaryStore{}
			store.On("CreditSummary", mock.Anything, tt.req.UserID).Return(tt.summary, tt.storeErr)

			e, err := NewEvaluator(store)
			require.NoError(t, err)

			resp, err := e.Evaluate(context.Background(), tt.req)

			require.NoError(t, err)
			assert.Equal(t, tt.req.UserID, resp.UserID)
			assert.Equal(t, tt.approved, resp.Approved)
			assert.Equal(t, tt.reason, resp.Reason)
			store.AssertExpectations(t)
		})
	}
}

func TestEvaluateRejectsBadRequestsWithoutStoreAccess(t *testing.T) {
	tests := []struct {
		name   string
		req    CheckRequest
		reason string
	}{
		{"zero user", CheckRequest{UserID: 0, ProposedNewCardBalance: 10}, ReasonInvalidUser},
		{"negative balance", CheckRequest{UserID: 1, ProposedNewCardBalance: -10}, ReasonNegativeBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockSummaryStore{}
			e, err := NewEvaluator(store)
			require.NoError(t, err)

			resp, err := e.Evaluate(context.Background(), tt.req)

			require.NoError(t, err)
			assert.False(t, resp.Approved)
			assert.Equal(t, tt.reason, resp.Reason)
			store.AssertNotCalled(t, "CreditSummary", mock.Anything, mock.Anything)
		})
	}
}

func TestEvaluateRecordsDecisions(t *testing.T) {
	store := &mockSummaryStore{}
	store.On("CreditSummary", mock.Anything, int64(1)).Return(CreditSummary{Salary: 100}, nil)

	counter := &decisionCounter{}
	e, err := NewEvaluator(store, WithDecisionRecorder(counter))
	require.NoError(t, err)

	_, _ = e.Evaluate(context.Background(), CheckRequest{UserID: 1, ProposedNewCardBalance: 50})
	_, _ = e.Evaluate(context.Background(), CheckRequest{UserID: 1, ProposedNewCardBalance: 500})

	assert.Equal(t, 1, counter.approved)
	assert.Equal(t, 1, counter.rejected)
}
