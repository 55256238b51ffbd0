package events_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/docuflow/pkg/events"
	"github.com/docuflow/docuflow/pkg/models"
	"github.com/docuflow/docuflow/pkg/store"
	util "github.com/docuflow/docuflow/test/util"
)

func TestAppendAndListByDocument(t *testing.T) {
	db := util.SetupTestDatabase(t)
	logger := events.NewLogger(db)
	st := store.New(db)
	ctx := context.Background()

	docID := uuid.NewString()
	logger.Transition(ctx, docID, models.StatusPending, models.StatusOCRInProgress)
	logger.Transition(ctx, docID, models.StatusOCRInProgress, models.StatusOCRCompleted)
	logger.LLMCall(ctx, events.Record{
		EventType:      "classify",
		DocumentID:     docID,
		ModelID:        "test-model",
		RequestTokens:  100,
		ResponseTokens: 20,
		LatencyMS:      1500,
	})
	// An unrelated document's events stay out of the trail.
	logger.Transition(ctx, uuid.NewString(), models.StatusPending, models.StatusOCRInProgress)

	trail, err := st.Events.ListByDocument(ctx, docID, "", 50)
	require.NoError(t, err)
	require.Len(t, trail, 3)

	// Oldest first.
	assert.Equal(t, models.EventCategoryTransition, trail[0].Category)
	assert.Equal(t, string(models.StatusOCRInProgress), trail[0].EventType)
	assert.Equal(t, models.EventCategoryLLMRequest, trail[2].Category)
	require.NotNil(t, trail[2].RequestTokens)
	assert.Equal(t, 100, *trail[2].RequestTokens)
	require.NotNil(t, trail[2].ModelID)
	assert.Equal(t, "test-model", *trail[2].ModelID)

	filtered, err := st.Events.ListByDocument(ctx, docID, models.EventCategoryLLMRequest, 50)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "classify", filtered[0].EventType)
}

func TestLockEventsCarryKeyDetails(t *testing.T) {
	db := util.SetupTestDatabase(t)
	logger := events.NewLogger(db)
	st := store.New(db)
	ctx := context.Background()

	logger.LockEvent(ctx, "lock_acquired", "series/acme corp/utility_bill")

	recent, err := st.Events.ListRecent(ctx, models.EventCategoryLock, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "lock_acquired", recent[0].EventType)
	assert.Equal(t, "series/acme corp/utility_bill", recent[0].Details["key"])
}
