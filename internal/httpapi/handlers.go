package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carrier_sales/internal/analytics"
	"carrier_sales/internal/carrier"
	"carrier_sales/internal/loads"
	"carrier_sales/internal/store"
)

func (r *Router) health(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	body := gin.H{
		"service": "carrier-sales",
		"loads":   r.loads.Len(),
		"calls":   r.store.Len(),
	}
	if at := r.loads.LoadedAt(); !at.IsZero() {
		body["loads_loaded_at"] = at.UTC().Format(time.RFC3339)
	}
	if err := r.store.Health(c.Request.Context()); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
		body["error"] = err.Error()
		r.logger.Warn("health check failed", zap.Error(err))
	}
	body["status"] = status
	r.respondJSON(c, code, body)
}

func (r *Router) verifyCarrier(c *gin.Context) {
	st, err := r.verifier.Verify(c.Request.Context(), c.Query("mc_number"), c.Query("dot_number"))
	if err != nil {
		r.failErr(c, err)
		return
	}
	r.respondJSON(c, http.StatusOK, gin.H{
		"verified": st.Verified,
		"source":   st.Source,
		"carrier":  st,
		"message":  st.Message,
	})
}

// criteriaFromQuery reads search filters. "origin" and "destination" take the
// combined "City, ST" form and win over the separate city and state params.
func criteriaFromQuery(c *gin.Context) (loads.Criteria, error) {
	crit := loads.Criteria{
		OriginCity:       c.Query("origin_city"),
		OriginState:      c.Query("origin_state"),
		DestinationCity:  c.Query("destination_city"),
		DestinationState: c.Query("destination_state"),
		EquipmentType:    c.Query("equipment_type"),
		Commodity:        c.Query("commodity"),
	}
	if raw := strings.TrimSpace(c.Query("origin")); raw != "" {
		loc := loads.ParseLocation(raw)
		crit.OriginCity, crit.OriginState = loc.City, loc.State
	}
	if raw := strings.TrimSpace(c.Query("destination")); raw != "" {
		loc := loads.ParseLocation(raw)
		crit.DestinationCity, crit.DestinationState = loc.City, loc.State
	}
	if raw := strings.TrimSpace(c.Query("pickup_date")); raw != "" {
		day, err := loads.ParseDate(raw)
		if err != nil {
			return loads.Criteria{}, fmt.Errorf("%w: pickup_date must be YYYY-MM-DD", errBadRequest)
		}
		crit.PickupDate = day
	}
	return crit, nil
}

func (r *Router) searchLoads(c *gin.Context) {
	crit, err := criteriaFromQuery(c)
	if err != nil {
		r.failErr(c, err)
		return
	}
	found := r.loads.Search(crit)
	r.respondJSON(c, http.StatusOK, gin.H{"count": len(found), "loads": found})
}

func (r *Router) getLoad(c *gin.Context) {
	load, err := r.loads.GetByID(c.Param("load_id"))
	if err != nil {
		r.failErr(c, err)
		return
	}
	r.respondJSON(c, http.StatusOK, gin.H{"load": load})
}

// flexString accepts a JSON string or number, since workflow tools send MC
// numbers either way.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number")
	}
	*f = flexString(n.String())
	return nil
}

type callResultRequest struct {
	CallID            string              `json:"call_id"`
	MCNumber          flexString          `json:"mc_number"`
	CarrierName       string              `json:"carrier_name"`
	LoadID            flexString          `json:"load_id"`
	Outcome           string              `json:"outcome" binding:"required"`
	Sentiment         string              `json:"sentiment"`
	InitialRate       *float64            `json:"initial_rate"`
	CarrierOffer      *float64            `json:"carrier_offer"`
	AgreedRate        *float64            `json:"agreed_rate"`
	NegotiationRounds int                 `json:"negotiation_rounds"`
	Transcript        string              `json:"transcript"`
	ExtractedData     store.ExtractedData `json:"extracted_data"`
}

func (req callResultRequest) toRecord() (store.CallResult, error) {
	outcome, err := store.ParseOutcome(req.Outcome)
	if err != nil {
		return store.CallResult{}, err
	}
	sentiment := store.SentimentNeutral
	if strings.TrimSpace(req.Sentiment) != "" {
		if sentiment, err = store.ParseSentiment(req.Sentiment); err != nil {
			return store.CallResult{}, err
		}
	}
	mc := strings.TrimSpace(string(req.MCNumber))
	if n := carrier.NormalizeNumber(mc); n != "" {
		mc = n
	}
	return store.CallResult{
		CallID:            req.CallID,
		MCNumber:          mc,
		CarrierName:       strings.TrimSpace(req.CarrierName),
		LoadID:            strings.TrimSpace(string(req.LoadID)),
		Outcome:           outcome,
		Sentiment:         sentiment,
		InitialRate:       req.InitialRate,
		CarrierOffer:      req.CarrierOffer,
		AgreedRate:        req.AgreedRate,
		NegotiationRounds: req.NegotiationRounds,
		Transcript:        req.Transcript,
		ExtractedData:     req.ExtractedData,
	}, nil
}

func (r *Router) saveCallResult(c *gin.Context) {
	var req callResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		r.failErr(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	rec, err := req.toRecord()
	if err != nil {
		r.failErr(c, err)
		return
	}
	saved, err := r.store.Append(c.Request.Context(), rec)
	if err != nil {
		r.failErr(c, err)
		return
	}
	if r.metrics != nil {
		r.metrics.RecordCallResult(string(saved.Outcome))
	}
	r.logger.Info("call result saved",
		zap.String("call_id", saved.CallID),
		zap.String("load_id", saved.LoadID),
		zap.String("outcome", string(saved.Outcome)))
	r.respondJSON(c, http.StatusCreated, gin.H{
		"message": "Call results saved successfully",
		"call_id": saved.CallID,
		"call":    saved,
	})
}

func (r *Router) listCalls(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			r.failErr(c, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest))
			return
		}
		limit = n
	}
	calls := r.store.List(limit)
	r.respondJSON(c, http.StatusOK, gin.H{"count": len(calls), "calls": calls})
}

func (r *Router) getCall(c *gin.Context) {
	call, err := r.store.Get(c.Param("call_id"))
	if err != nil {
		r.failErr(c, err)
		return
	}
	r.respondJSON(c, http.StatusOK, gin.H{"call": call})
}

func (r *Router) getAnalytics(c *gin.Context) {
	snap := analytics.Aggregate(r.store.All())
	body := gin.H{"analytics": snap}
	if snap.TotalCalls == 0 {
		body["message"] = "No calls recorded yet"
	}
	r.respondJSON(c, http.StatusOK, body)
}
