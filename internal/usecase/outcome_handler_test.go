package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
)

func outcomePayload(t *testing.T, out models.TradeOutcome) []byte {
	t.Helper()
	b, err := json.Marshal(out)
	require.NoError(t, err)
	return b
}

func TestOutcomeHandlerRecords(t *testing.T) {
	trk := &fakeTracker{}
	h := NewKafkaOutcomeHandler("trade.outcomes", trk, newRecordMetrics(), nil)

	out := models.TradeOutcome{
		ID:              "t-1",
		StrategyName:    "grid",
		Symbol:          "BTCUSDT",
		TimestampClosed: time.Now(),
		PnL:             4.2,
	}
	require.NoError(t, h.Handle(context.Background(), outcomePayload(t, out)))
}

func TestOutcomeHandlerAcksDuplicates(t *testing.T) {
	trk := &fakeTracker{recordErr: fmt.Errorf("record trade t-1: %w", models.ErrDuplicateTrade)}
	h := NewKafkaOutcomeHandler("trade.outcomes", trk, newRecordMetrics(), nil)

	out := models.TradeOutcome{ID: "t-1", StrategyName: "grid", TimestampClosed: time.Now()}
	assert.NoError(t, h.Handle(context.Background(), outcomePayload(t, out)))
}

func TestOutcomeHandlerPropagatesStorageFailure(t *testing.T) {
	trk := &fakeTracker{recordErr: fmt.Errorf("record trade t-1: %w: insert failed", models.ErrStorageWrite)}
	h := NewKafkaOutcomeHandler("trade.outcomes", trk, newRecordMetrics(), nil)

	out := models.TradeOutcome{ID: "t-1", StrategyName: "grid", TimestampClosed: time.Now()}
	err := h.Handle(context.Background(), outcomePayload(t, out))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStorageWrite)
}

func TestOutcomeHandlerDropsInvalid(t *testing.T) {
	trk := &fakeTracker{}
	h := NewKafkaOutcomeHandler("trade.outcomes", trk, newRecordMetrics(), nil)

	// missing id and strategy is acked without recording
	assert.NoError(t, h.Handle(context.Background(), []byte(`{"symbol":"BTCUSDT"}`)))

	// malformed JSON is an error for the consumer retry path
	assert.Error(t, h.Handle(context.Background(), []byte(`{not json`)))
}
