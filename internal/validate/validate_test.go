package validate

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeAccountID(t *testing.T) {
	cases := map[string]string{
		"  acc1000 ":  "ACC1000",
		"ACC1001":     "ACC1001",
		"\tAcC2000\n": "ACC2000",
		"":            "",
	}
	for in, want := range cases {
		got := SanitizeAccountID(in)
		assert.Equal(t, want, got)
		assert.Equal(t, got, SanitizeAccountID(got), "sanitize must be idempotent for %q", in)
	}
}

func TestValidateAccountID(t *testing.T) {
	tests := []struct {
		id       string
		ok       bool
		wantWarn bool
	}{
		{"ACC1000", true, false},
		{"ACC1099", true, false},
		{"ACC2000", true, true},
		{"ACC2049", true, true},
		{"ACC5000", true, true},
		{"ACC0999", true, true},
		{"ACC100", false, false},
		{"ACC10000", false, false},
		{"acc1000", false, false},
		{"XYZ1000", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			ok, msg := ValidateAccountID(tt.id)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				assert.Contains(t, msg, "invalid account format")
				return
			}
			assert.Equal(t, tt.wantWarn, msg != "", msg)
		})
	}
}

func TestValidateAmount(t *testing.T) {
	for _, amt := range []float64{0, -1, -0.01, math.NaN(), math.Inf(1)} {
		ok, msg := ValidateAmount(amt)
		assert.False(t, ok, "amount %v", amt)
		assert.NotEmpty(t, msg)
	}

	for _, amt := range []float64{0.01, 100, LargeTransferThreshold} {
		ok, msg := ValidateAmount(amt)
		assert.True(t, ok)
		assert.Empty(t, msg)
	}

	ok, msg := ValidateAmount(LargeTransferThreshold + 1)
	assert.True(t, ok)
	assert.Contains(t, msg, "large transfer")
}

func TestValidateTransferRequestSameAccount(t *testing.T) {
	err := ValidateTransferRequest("ACC1000", "ACC1000", 100.0, false, nil)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Msg, "cannot be the same")

	// sanitization happens before the comparison
	err = ValidateTransferRequest("acc1000 ", " ACC1000", 100.0, false, nil)
	assert.Error(t, err)
}

func TestValidateTransferRequestHardFailures(t *testing.T) {
	assert.Error(t, ValidateTransferRequest("BAD", "ACC1001", 10, false, nil))
	assert.Error(t, ValidateTransferRequest("ACC1000", "BAD", 10, false, nil))
	assert.Error(t, ValidateTransferRequest("ACC1000", "ACC1001", 0, false, nil))
	assert.NoError(t, ValidateTransferRequest("ACC1000", "ACC1001", 10, true, nil))
}

func TestValidateTransferRequestWarnings(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := zap.New(core)

	err := ValidateTransferRequest("ACC1000", "ACC2001", 2_000_000, false, log)
	require.NoError(t, err)
	assert.Equal(t, 2, logs.FilterMessage("transfer validation warning").Len())

	err = ValidateTransferRequest("ACC1000", "ACC2001", 100, true, log)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Msg, "invalid account range")

	err = ValidateTransferRequest("ACC1000", "ACC1001", 2_000_000, true, log)
	assert.Error(t, err)
}

func TestNewTransferRequest(t *testing.T) {
	req, err := NewTransferRequest(" acc1000", "acc1001 ", 25.5, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "ACC1000", req.FromAccount)
	assert.Equal(t, "ACC1001", req.ToAccount)
	assert.Equal(t, 25.5, req.Amount)

	_, err = NewTransferRequest("ACC1000", "ACC1001", -5, false, nil)
	assert.Error(t, err)
}
