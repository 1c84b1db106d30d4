package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rate(v float64) *float64 { return &v }

func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func openJSON(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calls.json")
	s, err := Open(context.Background(), NewJSONFile(path), WithClock(fixedClock()))
	require.NoError(t, err)
	return s, path
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	s, _ := openJSON(t)
	rec, err := s.Append(context.Background(), CallResult{
		MCNumber:          "123456",
		LoadID:            "L001",
		Outcome:           "Agreed",
		Sentiment:         "positive",
		AgreedRate:        rate(2400),
		NegotiationRounds: 2,
	})
	require.NoError(t, err)
	if !strings.HasPrefix(rec.CallID, "call_") {
		t.Fatalf("expected call_ prefix, got %q", rec.CallID)
	}
	assert.Equal(t, OutcomeAgreed, rec.Outcome)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Equal(t, 1, s.Len())

	got, err := s.Get(rec.CallID)
	require.NoError(t, err)
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Fatalf("stored record mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendDefaultsSentimentToNeutral(t *testing.T) {
	s, _ := openJSON(t)
	rec, err := s.Append(context.Background(), CallResult{Outcome: OutcomeOther})
	require.NoError(t, err)
	assert.Equal(t, SentimentNeutral, rec.Sentiment)
}

func TestAppendRejectsInvalid(t *testing.T) {
	s, _ := openJSON(t)
	cases := map[string]CallResult{
		"unknown outcome":   {Outcome: "maybe", Sentiment: SentimentNeutral},
		"unknown sentiment": {Outcome: OutcomeAgreed, Sentiment: "ecstatic"},
		"negative rounds":   {Outcome: OutcomeAgreed, Sentiment: SentimentNeutral, NegotiationRounds: -1},
		"negative rate":     {Outcome: OutcomeAgreed, Sentiment: SentimentNeutral, AgreedRate: rate(-5)},
	}
	for name, rec := range cases {
		_, err := s.Append(context.Background(), rec)
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
	assert.Equal(t, 0, s.Len())
}

func TestAppendDuplicateIDConflicts(t *testing.T) {
	s, _ := openJSON(t)
	_, err := s.Append(context.Background(), CallResult{CallID: "call_x", Outcome: OutcomeAgreed})
	require.NoError(t, err)
	_, err = s.Append(context.Background(), CallResult{CallID: " call_x ", Outcome: OutcomeAbandoned})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, s.Len())
}

func TestListMostRecentFirst(t *testing.T) {
	s, _ := openJSON(t)
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Append(context.Background(), CallResult{CallID: id, Outcome: OutcomeOther})
		require.NoError(t, err)
	}
	ids := func(recs []CallResult) []string {
		out := make([]string, 0, len(recs))
		for _, r := range recs {
			out = append(out, r.CallID)
		}
		return out
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids(s.List(0)))
	assert.Equal(t, []string{"c", "b"}, ids(s.List(2)))
	assert.Equal(t, []string{"c", "b", "a"}, ids(s.List(10)))
	assert.Equal(t, []string{"a", "b", "c"}, ids(s.All()))
}

func TestGetUnknown(t *testing.T) {
	s, _ := openJSON(t)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s, _ := openJSON(t)
	rec, err := s.Append(context.Background(), CallResult{
		CallID:        "c1",
		Outcome:       OutcomeAgreed,
		AgreedRate:    rate(1000),
		ExtractedData: ExtractedData{"lane": "CHI-DAL"},
	})
	require.NoError(t, err)
	*rec.AgreedRate = 1
	rec.ExtractedData["lane"] = "changed"

	got, err := s.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, *got.AgreedRate)
	assert.Equal(t, "CHI-DAL", got.ExtractedData["lane"])
}

func TestJSONFileSurvivesReopen(t *testing.T) {
	s, path := openJSON(t)
	first, err := s.Append(context.Background(), CallResult{Outcome: OutcomeAgreed, AgreedRate: rate(2400), ExtractedData: ExtractedData{"equipment": "Van"}})
	require.NoError(t, err)
	second, err := s.Append(context.Background(), CallResult{Outcome: OutcomeNoAgreement, Sentiment: SentimentNegative})
	require.NoError(t, err)

	reopened, err := Open(context.Background(), NewJSONFile(path))
	require.NoError(t, err)
	if diff := cmp.Diff([]CallResult{first, second}, reopened.All()); diff != "" {
		t.Fatalf("reopened store mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc []map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Len(t, doc, 2)
	assert.Nil(t, doc[1]["agreed_rate"])

	leftovers, err := filepath.Glob(path + ".tmp-*")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestJSONFileMissingIsEmpty(t *testing.T) {
	s, _ := openJSON(t)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.List(0))
	assert.NoError(t, s.Health(context.Background()))
}

func TestJSONFileFreshDirectoryIsHealthy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newdir", "calls.json")
	s, err := Open(context.Background(), NewJSONFile(path))
	require.NoError(t, err)
	assert.NoError(t, s.Health(context.Background()))
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist, "no document is written before the first append")
}

func TestJSONFileCorruptFailsOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Open(context.Background(), NewJSONFile(path))
	assert.Error(t, err)
}

type failingBackend struct{ JSONFile }

func (failingBackend) Append(context.Context, CallResult, []CallResult) error {
	return errors.New("disk full")
}

func TestPersistenceFailureIsNotVisible(t *testing.T) {
	s, err := Open(context.Background(), &failingBackend{JSONFile{path: filepath.Join(t.TempDir(), "x.json")}})
	require.NoError(t, err)

	_, err = s.Append(context.Background(), CallResult{CallID: "c1", Outcome: OutcomeAgreed})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 0, s.Len())
	_, err = s.Get("c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentAppendsAllPersist(t *testing.T) {
	s, path := openJSON(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append(context.Background(), CallResult{Outcome: OutcomeTransferred})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, s.Len())

	reopened, err := Open(context.Background(), NewJSONFile(path))
	require.NoError(t, err)
	assert.Equal(t, 20, reopened.Len())
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "calls.db")
	backend, err := OpenSQLite(path)
	require.NoError(t, err)
	s, err := Open(context.Background(), backend, WithClock(fixedClock()))
	require.NoError(t, err)

	first, err := s.Append(context.Background(), CallResult{
		MCNumber:          "123456",
		CarrierName:       "ACME",
		LoadID:            "L001",
		Outcome:           OutcomeAgreed,
		Sentiment:         SentimentPositive,
		InitialRate:       rate(2200),
		CarrierOffer:      rate(2600),
		AgreedRate:        rate(2400),
		NegotiationRounds: 2,
		Transcript:        "hello",
		ExtractedData:     ExtractedData{"equipment": "Reefer"},
	})
	require.NoError(t, err)
	second, err := s.Append(context.Background(), CallResult{Outcome: OutcomeAbandoned})
	require.NoError(t, err)
	_, err = s.Append(context.Background(), CallResult{CallID: first.CallID, Outcome: OutcomeOther})
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, s.Health(context.Background()))
	require.NoError(t, s.Close())

	backend, err = OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	reopened, err := Open(context.Background(), backend)
	require.NoError(t, err)
	if diff := cmp.Diff([]CallResult{first, second}, reopened.All()); diff != "" {
		t.Fatalf("reopened store mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractedDataScalarsOnly(t *testing.T) {
	var rec CallResult
	err := json.Unmarshal([]byte(`{"outcome":"agreed","extracted_data":{"weight":42000,"hazmat":false,"note":"ok","empty":null}}`), &rec)
	require.NoError(t, err)
	assert.Equal(t, ExtractedData{"weight": "42000", "hazmat": "false", "note": "ok", "empty": ""}, rec.ExtractedData)

	err = json.Unmarshal([]byte(`{"extracted_data":{"nested":{"a":1}}}`), &rec)
	assert.Error(t, err)
}

func TestParseEnums(t *testing.T) {
	o, err := ParseOutcome(" No-Agreement ")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoAgreement, o)

	_, err = ParseOutcome("declined")
	assert.ErrorIs(t, err, ErrInvalid)

	s, err := ParseSentiment("NEGATIVE")
	require.NoError(t, err)
	assert.Equal(t, SentimentNegative, s)
}
