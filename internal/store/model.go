package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Outcome is the terminal state of a negotiation call.
type Outcome string

const (
	OutcomeAgreed      Outcome = "agreed"
	OutcomeNoAgreement Outcome = "no_agreement"
	OutcomeTransferred Outcome = "transferred"
	OutcomeAbandoned   Outcome = "abandoned"
	OutcomeOther       Outcome = "other"
)

// Outcomes lists every valid outcome in display order.
var Outcomes = []Outcome{OutcomeAgreed, OutcomeNoAgreement, OutcomeTransferred, OutcomeAbandoned, OutcomeOther}

// ParseOutcome accepts any case and "-" or " " in place of "_".
func ParseOutcome(raw string) (Outcome, error) {
	o := Outcome(enumKey(raw))
	for _, known := range Outcomes {
		if o == known {
			return o, nil
		}
	}
	return "", fmt.Errorf("%w: unknown outcome %q", ErrInvalid, raw)
}

// Sentiment is a coarse affect classification of a call.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

var Sentiments = []Sentiment{SentimentPositive, SentimentNeutral, SentimentNegative}

func ParseSentiment(raw string) (Sentiment, error) {
	s := Sentiment(enumKey(raw))
	for _, known := range Sentiments {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unknown sentiment %q", ErrInvalid, raw)
}

func enumKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer("-", "_", " ", "_").Replace(key)
}

// ExtractedData is the open set of facts pulled from a call transcript.
// Scalar JSON values are stored as strings; nested values are rejected.
type ExtractedData map[string]string

func (d *ExtractedData) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*d = nil
		return nil
	}
	out := make(ExtractedData, len(raw))
	for key, value := range raw {
		s, err := scalarString(value)
		if err != nil {
			return fmt.Errorf("extracted_data.%s: %w", key, err)
		}
		out[key] = s
	}
	*d = out
	return nil
}

func scalarString(value json.RawMessage) (string, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return "", nil
	}
	switch value[0] {
	case '"':
		var s string
		err := json.Unmarshal(value, &s)
		return s, err
	case '{', '[':
		return "", fmt.Errorf("nested values are not supported")
	case 'n':
		return "", nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(value, &b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	default:
		var n json.Number
		if err := json.Unmarshal(value, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	}
}

func (d ExtractedData) clone() ExtractedData {
	if d == nil {
		return nil
	}
	out := make(ExtractedData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// CallResult is the recorded outcome of one carrier call. Records are never
// changed after they are appended.
type CallResult struct {
	CallID            string        `json:"call_id"`
	MCNumber          string        `json:"mc_number"`
	CarrierName       string        `json:"carrier_name,omitempty"`
	LoadID            string        `json:"load_id"`
	Outcome           Outcome       `json:"outcome"`
	Sentiment         Sentiment     `json:"sentiment"`
	InitialRate       *float64      `json:"initial_rate,omitempty"`
	CarrierOffer      *float64      `json:"carrier_offer,omitempty"`
	AgreedRate        *float64      `json:"agreed_rate"`
	NegotiationRounds int           `json:"negotiation_rounds"`
	Transcript        string        `json:"transcript,omitempty"`
	ExtractedData     ExtractedData `json:"extracted_data,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Validate checks the typed fields of a record before it is stored.
func (c CallResult) Validate() error {
	if _, err := ParseOutcome(string(c.Outcome)); err != nil {
		return err
	}
	if _, err := ParseSentiment(string(c.Sentiment)); err != nil {
		return err
	}
	if c.NegotiationRounds < 0 {
		return fmt.Errorf("%w: negotiation_rounds must be >= 0", ErrInvalid)
	}
	for name, rate := range map[string]*float64{
		"initial_rate":  c.InitialRate,
		"carrier_offer": c.CarrierOffer,
		"agreed_rate":   c.AgreedRate,
	} {
		if rate != nil && *rate < 0 {
			return fmt.Errorf("%w: %s must be >= 0", ErrInvalid, name)
		}
	}
	return nil
}

func (c CallResult) clone() CallResult {
	c.InitialRate = cloneFloat(c.InitialRate)
	c.CarrierOffer = cloneFloat(c.CarrierOffer)
	c.AgreedRate = cloneFloat(c.AgreedRate)
	c.ExtractedData = c.ExtractedData.clone()
	return c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
