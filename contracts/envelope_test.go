package contracts

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type limitQuery struct {
	UserID  int64   `json:"userId"`
	Balance float64 `json:"balance"`
}

func TestNewEnvelope(t *testing.T) {
	t.Run("wraps body with fresh id and correlation fields", func(t *testing.T) {
		env, err := NewEnvelope("LimitQuery", "corr-1", "replies", limitQuery{UserID: 7, Balance: 120.5})
		require.NoError(t, err)

		_, err = uuid.Parse(env.ID)
		assert.NoError(t, err)
		assert.Equal(t, "LimitQuery", env.Type)
		assert.Equal(t, "corr-1", env.CorrelationID)
		assert.Equal(t, "replies", env.ReplyTo)
		assert.NotEmpty(t, env.Timestamp)
		assert.JSONEq(t, `{"userId":7,"balance":120.5}`, string(env.Body))
	})

	t.Run("fails on unmarshalable body", func(t *testing.T) {
		_, err := NewEnvelope("Bad", "corr-1", "", make(chan int))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to marshal Bad body")
	})
}

func TestEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     *Envelope
		wantErr bool
	}{
		{"nil envelope", nil, true},
		{"missing correlation id", &Envelope{Body: []byte(`{}`)}, true},
		{"empty body", &Envelope{CorrelationID: "c"}, true},
		{"valid", &Envelope{CorrelationID: "c", Body: []byte(`{}`)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEnvelope)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope("LimitQuery", "corr-2", "replies", limitQuery{UserID: 3, Balance: 10})
	require.NoError(t, err)
	env.SetHeader("x-origin", "card-service")

	data, err := env.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.CorrelationID, decoded.CorrelationID)
	assert.Equal(t, "card-service", decoded.Headers["x-origin"])

	body, err := DecodeBody[limitQuery](decoded)
	require.NoError(t, err)
	assert.Equal(t, limitQuery{UserID: 3, Balance: 10}, body)
}

func TestDecodeBodyErrors(t *testing.T) {
	t.Run("garbage wire payload", func(t *testing.T) {
		_, err := UnmarshalEnvelope([]byte("not json"))
		assert.ErrorIs(t, err, ErrInvalidEnvelope)
	})

	t.Run("body of the wrong shape", func(t *testing.T) {
		env := &Envelope{Type: "LimitQuery", CorrelationID: "c", Body: []byte(`"text"`)}
		_, err := DecodeBody[limitQuery](env)
		assert.ErrorIs(t, err, ErrInvalidEnvelope)
	})

	t.Run("nil envelope", func(t *testing.T) {
		_, err := DecodeBody[limitQuery](nil)
		assert.ErrorIs(t, err, ErrInvalidEnvelope)
	})
}
