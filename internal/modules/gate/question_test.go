package gate

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuestionMatches(t *testing.T) {
	q := Question{Prompt: "Will you follow the rules?", Keywords: [][]string{{"yes"}, {"please", "ok"}}}

	tests := []struct {
		answer string
		want   bool
	}{
		{"Yes please", true},
		{"YES, ok", true},
		{"okay, yes", true},
		{"yes", false},
		{"please", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, q.Matches(tt.answer), "answer %q", tt.answer)
	}
}

func TestQuestionWithoutKeywordsNeverMatches(t *testing.T) {
	assert.False(t, Question{Prompt: "anything"}.Matches("anything"))
	assert.False(t, Question{Keywords: [][]string{{" "}}}.Matches("anything"))
}

func TestParseKeywords(t *testing.T) {
	groups, err := ParseKeywords(" Rules ; read, AGREE | accept ;; ")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"rules"}, {"read", "agree", "accept"}}, groups)
	assert.Equal(t, "rules; read | agree | accept", FormatKeywords(groups))

	_, err = ParseKeywords(" ; , | ")
	assert.Error(t, err)
}

func TestReviewQueueEvictsOldest(t *testing.T) {
	queue := NewReviewQueue(50)
	for i := 0; i < 50; i++ {
		added, evicted := queue.Enqueue(Review{UserID: fmt.Sprintf("u%d", i)})
		require.True(t, added)
		require.Nil(t, evicted)
	}

	// Lookups must not refresh an entry's position.
	_, ok := queue.Get("u0")
	require.True(t, ok)

	added, evicted := queue.Enqueue(Review{UserID: "u50"})
	assert.True(t, added)
	require.NotNil(t, evicted)
	assert.Equal(t, "u0", evicted.UserID)
	assert.Equal(t, 50, queue.Len())
	assert.False(t, queue.Pending("u0"))
	assert.Equal(t, "u1", queue.List()[0].UserID)
	assert.Equal(t, "u50", queue.List()[49].UserID)
}

func TestReviewQueueRejectsDuplicates(t *testing.T) {
	queue := NewReviewQueue(0)
	assert.Equal(t, DefaultReviewCapacity, queue.Capacity())

	added, _ := queue.Enqueue(Review{UserID: "u1", Answer: "first"})
	require.True(t, added)
	added, _ = queue.Enqueue(Review{UserID: "u1", Answer: "second"})
	assert.False(t, added)

	review, ok := queue.Resolve("u1")
	require.True(t, ok)
	assert.Equal(t, "first", review.Answer)
	assert.False(t, queue.Pending("u1"))

	_, ok = queue.Resolve("u1")
	assert.False(t, ok)
}

func TestReviewQueueConcurrentEnqueue(t *testing.T) {
	queue := NewReviewQueue(10)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			queue.Enqueue(Review{UserID: fmt.Sprintf("u%d", i), QueuedAt: time.Now()})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, queue.Len())
}
