package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const maxResponseBytes = 1 << 20

// Record is the subset of a registry carrier entry the service uses.
type Record struct {
	LegalName        string
	DBAName          string
	DOTNumber        string
	City             string
	State            string
	AllowedToOperate string
	StatusCode       string
	OOSDate          string
	OOSReason        string
}

// Registry looks up a carrier. A nil Record with a nil error means the
// registry answered and has no such carrier.
type Registry interface {
	Lookup(ctx context.Context, id Identifier) (*Record, error)
}

// FMCSAClient queries the FMCSA QC carrier API.
type FMCSAClient struct {
	baseURL string
	webKey  string
	client  *http.Client
}

func NewFMCSAClient(baseURL, webKey string, client *http.Client) *FMCSAClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &FMCSAClient{baseURL: strings.TrimRight(baseURL, "/"), webKey: webKey, client: client}
}

func (c *FMCSAClient) Lookup(ctx context.Context, id Identifier) (*Record, error) {
	if c.webKey == "" {
		return nil, ErrNoCredential
	}
	var path string
	switch id.Kind {
	case KindMC:
		path = "/carriers/docket-number/" + url.PathEscape(id.Number)
	case KindDOT:
		path = "/carriers/" + url.PathEscape(id.Number)
	default:
		return nil, fmt.Errorf("%w: unknown identifier kind %q", ErrInvalidArgument, id.Kind)
	}
	endpoint := c.baseURL + path + "?" + url.Values{"webKey": {c.webKey}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrRegistryUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrRegistryUnavailable, err)
	}
	rec, err := parseFMCSA(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode body: %v", ErrRegistryUnavailable, err)
	}
	return rec, nil
}

// parseFMCSA extracts the carrier from a QC API body. "content" is an object
// for DOT lookups and a list for docket lookups, and the carrier may sit under
// a "carrier" key.
func parseFMCSA(body []byte) (*Record, error) {
	var envelope struct {
		Content json.RawMessage `json:"content"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return nil, err
	}
	content := bytes.TrimSpace(envelope.Content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return nil, nil
	}

	var entry map[string]any
	switch content[0] {
	case '[':
		var list []map[string]any
		if err := decodeNumbers(content, &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, nil
		}
		entry = list[0]
	case '{':
		if err := decodeNumbers(content, &entry); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unexpected content %q", content[:1])
	}

	carrier := entry
	if nested, ok := entry["carrier"].(map[string]any); ok {
		carrier = nested
	}
	if len(carrier) == 0 {
		return nil, nil
	}
	return &Record{
		LegalName:        field(carrier, "legalName", "name"),
		DBAName:          field(carrier, "dbaName"),
		DOTNumber:        field(carrier, "dotNumber"),
		City:             field(carrier, "phyCity"),
		State:            field(carrier, "phyState"),
		AllowedToOperate: strings.ToUpper(field(carrier, "allowedToOperate")),
		StatusCode:       strings.ToUpper(field(carrier, "statusCode")),
		OOSDate:          field(carrier, "oosDate"),
		OOSReason:        field(carrier, "oosReason", "oosCode"),
	}, nil
}

func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func field(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

func (r *Record) toStatus(mc, dot string) Status {
	st := Status{
		MCNumber:        mc,
		DOTNumber:       firstNonEmpty(r.DOTNumber, dot),
		LegalName:       firstNonEmpty(r.LegalName, r.DBAName, "Unknown"),
		City:            r.City,
		State:           r.State,
		OperatingStatus: StatusUnknown,
		OutOfService:    r.outOfService(),
		Verified:        true,
		Source:          SourceLive,
		Message:         "carrier verified via FMCSA",
	}
	switch {
	case r.AllowedToOperate == "Y":
		st.OperatingStatus = StatusActive
	case r.AllowedToOperate == "N":
		st.OperatingStatus = StatusInactive
	case r.StatusCode == "A":
		st.OperatingStatus = StatusActive
	case r.StatusCode == "I":
		st.OperatingStatus = StatusInactive
	}
	return st
}

// outOfService reports an OOS order: a recorded OOS date, or a carrier not
// allowed to operate with an OOS reason on file.
func (r *Record) outOfService() bool {
	return r.OOSDate != "" || (r.AllowedToOperate == "N" && r.OOSReason != "")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
