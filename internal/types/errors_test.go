package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("connection refused")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"transport", E(KindTransport, "dial", base), KindTransport},
		{"wrapped quota", fmt.Errorf("cycle: %w", E(KindQuota, "fetch", nil)), KindQuota},
		{"rejected sentinel", ErrRejected, KindRejected},
		{"plain", base, KindUnknown},
		{"nil", nil, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := E(KindPersistence, "create trade", base)

	assert.True(t, errors.Is(err, base))
	assert.True(t, IsKind(err, KindPersistence))
	assert.False(t, IsKind(nil, KindPersistence))
	assert.Equal(t, "create trade: persistence: boom", err.Error())
}

func TestRejectedSentinelMatchesByKindAndOp(t *testing.T) {
	rejected := fmt.Errorf("unit: %w", E(KindRejected, "qualify", errors.New("rsi undefined")))

	assert.True(t, errors.Is(rejected, ErrRejected))
	assert.False(t, errors.Is(E(KindRejected, "other", nil), ErrRejected))
	assert.False(t, errors.Is(E(KindProtocol, "qualify", nil), ErrRejected))
	assert.False(t, errors.Is(E(KindRejected, "qualify", nil), E(KindRejected, "qualify", errors.New("x"))))
}
