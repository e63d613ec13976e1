package sequence

import (
	"gatekeeper/internal/discord"
	"gatekeeper/internal/metrics"
)

// BulkDeleteLimit is the most messages one bulk delete call accepts.
const BulkDeleteLimit = 100

// deleteTracked drains ids front to back in batches of up to BulkDeleteLimit.
// Batches of fewer than two ids are deleted one by one since bulk delete needs
// at least two. ids is shortened before each call so nothing is submitted twice.
func deleteTracked(messenger discord.Messenger, channelID string, ids *[]string, done func(error)) (batches, singles int) {
	for len(*ids) > 0 {
		n := min(len(*ids), BulkDeleteLimit)
		batch := make([]string, n)
		copy(batch, (*ids)[:n])
		*ids = (*ids)[n:]

		if n < 2 {
			for _, id := range batch {
				messenger.Delete(channelID, id, done)
				singles++
			}
			metrics.MessagesPurged.WithLabelValues("single").Add(float64(n))
			continue
		}
		messenger.BulkDelete(channelID, batch, done)
		batches++
		metrics.MessagesPurged.WithLabelValues("bulk").Add(float64(n))
	}
	*ids = nil
	return batches, singles
}
