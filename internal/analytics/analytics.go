// Package analytics reduces call results into dashboard statistics.
package analytics

import (
	"math"

	"carrier_sales/internal/store"
)

type Snapshot struct {
	TotalCalls       int                   `json:"total_calls"`
	SuccessfulCalls  int                   `json:"successful_calls"`
	TransferredCalls int                   `json:"transferred_calls"`
	ConversionRate   float64               `json:"conversion_rate"`
	Outcomes         map[store.Outcome]int `json:"outcomes"`
	Sentiment        SentimentBreakdown    `json:"sentiment"`
	Negotiation      NegotiationStats      `json:"negotiation"`
}

type SentimentBreakdown struct {
	Positive     int     `json:"positive"`
	Neutral      int     `json:"neutral"`
	Negative     int     `json:"negative"`
	PositiveRate float64 `json:"positive_rate"`
}

type NegotiationStats struct {
	AvgRounds       float64 `json:"avg_rounds"`
	AvgAgreedRate   float64 `json:"avg_agreed_rate"`
	AgreedRateCount int     `json:"agreed_rate_count"`
}

// Aggregate computes a Snapshot from records. Rates are percentages and every
// rate and average is rounded to two decimals; empty denominators yield 0.
func Aggregate(records []store.CallResult) Snapshot {
	snap := Snapshot{
		TotalCalls: len(records),
		Outcomes:   make(map[store.Outcome]int, len(store.Outcomes)),
	}
	for _, o := range store.Outcomes {
		snap.Outcomes[o] = 0
	}

	var rounds int
	var agreedSum float64
	for _, rec := range records {
		snap.Outcomes[rec.Outcome]++
		switch rec.Outcome {
		case store.OutcomeAgreed:
			snap.SuccessfulCalls++
		case store.OutcomeTransferred:
			snap.SuccessfulCalls++
			snap.TransferredCalls++
		}
		switch rec.Sentiment {
		case store.SentimentPositive:
			snap.Sentiment.Positive++
		case store.SentimentNegative:
			snap.Sentiment.Negative++
		default:
			snap.Sentiment.Neutral++
		}
		rounds += rec.NegotiationRounds
		if rec.AgreedRate != nil {
			agreedSum += *rec.AgreedRate
			snap.Negotiation.AgreedRateCount++
		}
	}

	snap.ConversionRate = percent(snap.SuccessfulCalls, snap.TotalCalls)
	snap.Sentiment.PositiveRate = percent(snap.Sentiment.Positive, snap.TotalCalls)
	if snap.TotalCalls > 0 {
		snap.Negotiation.AvgRounds = round2(float64(rounds) / float64(snap.TotalCalls))
	}
	if n := snap.Negotiation.AgreedRateCount; n > 0 {
		snap.Negotiation.AvgAgreedRate = round2(agreedSum / float64(n))
	}
	return snap
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
