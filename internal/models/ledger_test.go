package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreditEventTypeSign(t *testing.T) {
	debits := []CreditEventType{EventRecognitionSent, EventRedemption, EventCarryForwardExpired}
	for _, et := range debits {
		assert.Equal(t, -1, et.Sign(), string(et))
	}

	credits := []CreditEventType{EventRecognitionReceived, EventRedemptionRefund, EventMonthlyReset, EventCarryForward}
	for _, et := range credits {
		assert.Equal(t, 1, et.Sign(), string(et))
	}

	assert.Equal(t, 0, CreditEventType("BOGUS").Sign())
}

func TestCountsTowardBalance(t *testing.T) {
	assert.False(t, EventCarryForwardExpired.CountsTowardBalance())

	for _, et := range []CreditEventType{
		EventRecognitionSent, EventRecognitionReceived,
		EventRedemption, EventRedemptionRefund,
		EventMonthlyReset, EventCarryForward,
	} {
		assert.True(t, et.CountsTowardBalance(), string(et))
	}
}
