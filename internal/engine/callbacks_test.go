package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/mnemo/pkg/types"
)

func TestOnMemoryCreated_FiresOnStore(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil, newFakeClock(baseTime))

	received := make(chan int64, 1)
	eng.SetOnMemoryCreated(func(memoryID int64) {
		received <- memoryID
	})
	startEngine(t, eng)

	res, err := eng.Store(context.Background(), Candidate{Content: "test callback content"})
	require.NoError(t, err)

	select {
	case id := <-received:
		assert.Equal(t, res.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout: onMemoryCreated callback never fired")
	}
}

func TestOnMemoryCreated_NotFiredForDuplicate(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil, newFakeClock(baseTime))

	received := make(chan int64, 2)
	eng.SetOnMemoryCreated(func(memoryID int64) {
		received <- memoryID
	})
	startEngine(t, eng)

	ctx := context.Background()
	_, err := eng.Store(ctx, Candidate{Content: "said twice"})
	require.NoError(t, err)
	_, err = eng.Store(ctx, Candidate{Content: "said twice"})
	require.NoError(t, err)

	assert.Len(t, received, 1)
}

func TestAllCallbacks_FireInOrder(t *testing.T) {
	scorer := &fakeScorer{def: 8}
	embedder := &fakeEmbedder{fallback: []float32{1, 0}}
	eng, _ := newTestEngine(t, scorer, embedder, newFakeClock(baseTime))

	events := make(chan string, 10)
	eng.SetOnMemoryCreated(func(memoryID int64) {
		events <- fmt.Sprintf("created:%d", memoryID)
	})
	eng.SetOnScoringComplete(func(memoryID int64, score float64) {
		events <- fmt.Sprintf("scored:%d:%.0f", memoryID, score)
	})
	eng.SetOnEmbeddingComplete(func(memoryID int64) {
		events <- fmt.Sprintf("embedded:%d", memoryID)
	})
	startEngine(t, eng)

	res, err := eng.Store(context.Background(), Candidate{
		Content:     "test all callbacks in order",
		ScoreSource: types.ScoreSourceLLMExtraction,
	})
	require.NoError(t, err)

	var collected []string
	timeout := time.After(5 * time.Second)
	for len(collected) < 3 {
		select {
		case evt := <-events:
			collected = append(collected, evt)
		case <-timeout:
			t.Fatalf("timeout: only received %d/3 events: %v", len(collected), collected)
		}
	}

	assert.Equal(t, fmt.Sprintf("created:%d", res.ID), collected[0])
	assert.Equal(t, fmt.Sprintf("scored:%d:8", res.ID), collected[1])
	assert.Equal(t, fmt.Sprintf("embedded:%d", res.ID), collected[2])
}

func TestNoCallbacks_DoesNotPanic(t *testing.T) {
	embedder := &fakeEmbedder{fallback: []float32{1, 0}}
	eng, store := newTestEngine(t, nil, embedder, newFakeClock(baseTime))
	startEngine(t, eng)

	res, err := eng.Store(context.Background(), Candidate{Content: "no callbacks set"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return getRecord(t, store, res.ID).HasEmbedding()
	}, 5*time.Second, 10*time.Millisecond)
}
