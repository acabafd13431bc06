package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedemptionStatusTransitions(t *testing.T) {
	for _, next := range []RedemptionStatus{RedemptionIssued, RedemptionFailed, RedemptionCancelled} {
		assert.True(t, RedemptionPending.CanTransitionTo(next), string(next))
	}
	assert.False(t, RedemptionPending.CanTransitionTo(RedemptionPending))

	for _, terminal := range []RedemptionStatus{RedemptionIssued, RedemptionFailed, RedemptionCancelled} {
		for _, next := range []RedemptionStatus{RedemptionPending, RedemptionIssued, RedemptionFailed, RedemptionCancelled} {
			assert.False(t, terminal.CanTransitionTo(next))
		}
	}
}

func TestRedemptionStatusTerminal(t *testing.T) {
	assert.False(t, RedemptionPending.Terminal())
	assert.True(t, RedemptionIssued.Terminal())
	assert.True(t, RedemptionFailed.Terminal())
	assert.True(t, RedemptionCancelled.Terminal())
}
