package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/querypilot/internal/pipeline"
)

func TestSchedulerPollDeliversDueReports(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	_, err := s.AddReport(ctx, "tg:9", "acme", "daily revenue", 3600)
	require.NoError(t, err)

	runner := &fakeRunner{result: pipeline.FinalResult{FinalSummary: "Revenue was flat"}}
	messenger := &fakeMessenger{}
	sched := NewScheduler(runner, s, messenger)

	sched.Poll(ctx)
	require.Len(t, messenger.sent, 1)
	assert.Equal(t, "tg:9", messenger.sent[0].to)
	assert.Equal(t, "Scheduled report: daily revenue\n\nRevenue was flat", messenger.sent[0].text)

	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "acme", calls[0].TenantID)
	assert.Equal(t, "daily revenue", calls[0].Question)

	// Marked as run, so not due again within the hour.
	sched.Poll(ctx)
	assert.Len(t, messenger.sent, 1)
}

func TestConversationIDRoundTrip(t *testing.T) {
	id, err := ChatID(ConversationID(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = ChatID("web:acme")
	assert.Error(t, err)
}
