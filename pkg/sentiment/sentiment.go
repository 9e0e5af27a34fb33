// Package sentiment scores message content and folds the result into the
// author's running aggregate. The lexicon is deliberately small; the store
// invokes Apply on every ingested message regardless of origin so scores
// converge across federated servers.
package sentiment

import (
	"strings"

	"parley/pkg/models"
)

var lexicon = map[string]int64{
	"good":      1,
	"great":     2,
	"love":      2,
	"happy":     1,
	"thanks":    1,
	"awesome":   2,
	"nice":      1,
	"bad":       -1,
	"terrible":  -2,
	"hate":      -2,
	"sad":       -1,
	"awful":     -2,
	"angry":     -1,
	"horrible":  -2,
	"annoying":  -1,
	"wonderful": 2,
}

// Score returns the lexicon score for one message body.
func Score(content string) int64 {
	var total int64
	for _, word := range strings.Fields(strings.ToLower(content)) {
		word = strings.Trim(word, ".,!?;:'\"()")
		total += lexicon[word]
	}
	return total
}

// Apply folds a message into the aggregate.
func Apply(agg *models.SentimentScore, m models.Message) {
	agg.Count++
	agg.Total += Score(m.Content)
}
