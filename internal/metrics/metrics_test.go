package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("wrapped: %w", domain.ErrStakeTooLarge), "too_large"},
		{domain.ErrEventClosed, "event_closed"},
		{fmt.Errorf("sqlite: commit: %w", domain.ErrInsufficientBalance), "insufficient_balance"},
		{errors.New("disk full"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Reason(tt.err))
	}
}

func TestStakesRejectedLabels(t *testing.T) {
	before := testutil.ToFloat64(StakesRejected.WithLabelValues("too_large"))
	StakesRejected.WithLabelValues(Reason(domain.ErrStakeTooLarge)).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(StakesRejected.WithLabelValues("too_large")))
}
