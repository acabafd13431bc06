package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/boostly-api/internal/models"
	appErrors "github.com/noah-isme/boostly-api/pkg/errors"
)

type recognitionEnv struct {
	svc          *RecognitionService
	runner       *fakeRunner
	students     *memStudents
	recognitions *memRecognitions
	ledger       *memLedger
	quotas       *memQuotas
	cache        *memCache
}

func newRecognitionEnv(students ...models.Student) *recognitionEnv {
	env := &recognitionEnv{
		runner:       &fakeRunner{},
		students:     newMemStudents(students...),
		recognitions: newMemRecognitions(),
		ledger:       &memLedger{},
		quotas:       newMemQuotas(),
		cache:        newMemCache(),
	}
	tracker := NewQuotaTracker(env.quotas, env.ledger, 100, nil)
	env.svc = NewRecognitionService(env.runner, env.students, env.recognitions, env.ledger, tracker, env.cache, nil, nil, nil)
	return env
}

func TestSendRecognition(t *testing.T) {
	env := newRecognitionEnv(activeStudent("alice"), activeStudent("bob"))
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	bucket := models.MonthBucket(at)

	msg := "great debugging session"
	rec, err := env.svc.Send(context.Background(), SendRecognitionRequest{
		SenderID:   "alice",
		ReceiverID: "bob",
		Credits:    30,
		Message:    &msg,
		At:         at,
	})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NotEmpty(t, rec.ID)
	assert.True(t, bucket.Equal(rec.MonthBucket))

	sent := env.ledger.entriesOf("alice", models.EventRecognitionSent)
	require.Len(t, sent, 1)
	assert.Equal(t, -30, sent[0].CreditsDelta)
	require.NotNil(t, sent[0].RecognitionID)
	assert.Equal(t, rec.ID, *sent[0].RecognitionID)

	received := env.ledger.entriesOf("bob", models.EventRecognitionReceived)
	require.Len(t, received, 1)
	assert.Equal(t, 30, received[0].CreditsDelta)

	// Both sides got their baseline grant provisioned on first activity.
	assert.Len(t, env.ledger.entriesOf("alice", models.EventMonthlyReset), 1)
	assert.Len(t, env.ledger.entriesOf("bob", models.EventMonthlyReset), 1)

	aliceBalance, _ := env.ledger.SumDeltas(context.Background(), nil, "alice")
	bobBalance, _ := env.ledger.SumDeltas(context.Background(), nil, "bob")
	assert.Equal(t, 70, aliceBalance)
	assert.Equal(t, 130, bobBalance)

	quota, err := env.quotas.Find(context.Background(), nil, "alice", bucket)
	require.NoError(t, err)
	require.NotNil(t, quota)
	assert.Equal(t, 30, quota.CreditsSent)

	assert.ElementsMatch(t, []string{"alice", "bob"}, env.cache.balanceDrops)
	assert.Equal(t, 1, env.cache.boardDrops)
}

func TestSendRecognitionRejectsSelf(t *testing.T) {
	env := newRecognitionEnv(activeStudent("alice"))

	_, err := env.svc.Send(context.Background(), SendRecognitionRequest{SenderID: "alice", ReceiverID: "alice", Credits: 5})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Zero(t, env.runner.calls)
}

func TestSendRecognitionRejectsNonPositiveCredits(t *testing.T) {
	env := newRecognitionEnv(activeStudent("alice"), activeStudent("bob"))

	for _, credits := range []int{0, -10} {
		_, err := env.svc.Send(context.Background(), SendRecognitionRequest{SenderID: "alice", ReceiverID: "bob", Credits: credits})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	}
	assert.Empty(t, env.ledger.entries)
}

func TestSendRecognitionUnknownReceiver(t *testing.T) {
	env := newRecognitionEnv(activeStudent("alice"))

	_, err := env.svc.Send(context.Background(), SendRecognitionRequest{SenderID: "alice", ReceiverID: "ghost", Credits: 5})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Empty(t, env.ledger.entries)
}

func TestSendRecognitionInactiveStudent(t *testing.T) {
	inactive := activeStudent("bob")
	inactive.Status = models.StudentStatusInactive
	env := newRecognitionEnv(activeStudent("alice"), inactive)

	_, err := env.svc.Send(context.Background(), SendRecognitionRequest{SenderID: "alice", ReceiverID: "bob", Credits: 5})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveStudent.Code, appErrors.FromError(err).Code)
	assert.Empty(t, env.ledger.entries)
}

func TestSendRecognitionInsufficientBalance(t *testing.T) {
	env := newRecognitionEnv(activeStudent("alice"), activeStudent("bob"))

	_, err := env.svc.Send(context.Background(), SendRecognitionRequest{SenderID: "alice", ReceiverID: "bob", Credits: 150})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInsufficientBalance.Code, appErrors.FromError(err).Code)
	assert.Empty(t, env.ledger.entriesOf("alice", models.EventRecognitionSent))
}

func TestSendRecognitionQuotaExceeded(t *testing.T) {
	env := newRecognitionEnv(activeStudent("alice"), activeStudent("bob"))
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	_, err := env.svc.Send(context.Background(), SendRecognitionRequest{SenderID: "alice", ReceiverID: "bob", Credits: 80, At: at})
	require.NoError(t, err)

	// Received credits raise the balance but never the sending allowance.
	_, err = env.svc.Send(context.Background(), SendRecognitionRequest{SenderID: "bob", ReceiverID: "alice", Credits: 100, At: at.Add(time.Hour)})
	require.NoError(t, err)

	_, err = env.svc.Send(context.Background(), SendRecognitionRequest{SenderID: "alice", ReceiverID: "bob", Credits: 30, At: at.Add(2 * time.Hour)})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Code, appErrors.FromError(err).Code)

	sent := env.ledger.entriesOf("alice", models.EventRecognitionSent)
	assert.Len(t, sent, 1)
}

func TestDeleteRecognitionBlockedWhenReferenced(t *testing.T) {
	env := newRecognitionEnv(activeStudent("alice"), activeStudent("bob"))
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	rec, err := env.svc.Send(context.Background(), SendRecognitionRequest{SenderID: "alice", ReceiverID: "bob", Credits: 10, At: at})
	require.NoError(t, err)

	err = env.svc.Delete(context.Background(), rec.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)

	got, err := env.recognitions.GetByID(context.Background(), nil, rec.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestDeleteRecognitionUnreferenced(t *testing.T) {
	env := newRecognitionEnv(activeStudent("alice"), activeStudent("bob"))

	orphan := &models.Recognition{SenderID: "alice", ReceiverID: "bob", CreditsTransferred: 5}
	require.NoError(t, env.recognitions.Create(context.Background(), nil, orphan))

	require.NoError(t, env.svc.Delete(context.Background(), orphan.ID))

	got, err := env.recognitions.GetByID(context.Background(), nil, orphan.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
