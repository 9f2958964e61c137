package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/orderingest/core/internal/apperr"
	"github.com/orderingest/core/internal/orderrepo"
	"github.com/orderingest/core/internal/partner"
	"github.com/orderingest/core/internal/query"
)

// handleIngestSingle handles POST /api/feed/partner-{a,b} for the fixed
// partner id baked into the route.
func (s *Server) handleIngestSingle(id partner.ID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "rejected", "message": "malformed JSON body"})
			return
		}

		result := s.feed.ProcessSingle(r.Context(), id, raw)
		if !result.Success {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"status":    "rejected",
				"orderId":   result.OrderID,
				"partnerId": result.PartnerID,
				"errors":    apperr.ValidationResult{Errors: result.Errors}.Messages(),
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":         "accepted",
			"orderId":        result.OrderID,
			"partnerId":      result.PartnerID,
			"sequenceNumber": result.SequenceNumber,
		})
	}
}

// handleIngestBatch handles POST /api/feed/partner-{a,b}/batch.
func (s *Server) handleIngestBatch(id partner.ID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raws []any
		if err := json.NewDecoder(r.Body).Decode(&raws); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "rejected", "message": "batch body must be a JSON array"})
			return
		}

		results := s.feed.ProcessBatch(r.Context(), id, raws)
		accepted, rejected := 0, 0
		rendered := make([]map[string]any, len(results))
		for i, res := range results {
			if res.Success {
				accepted++
				rendered[i] = map[string]any{
					"status":         "accepted",
					"orderId":        res.OrderID,
					"partnerId":      res.PartnerID,
					"sequenceNumber": res.SequenceNumber,
				}
			} else {
				rejected++
				rendered[i] = map[string]any{
					"status":    "rejected",
					"orderId":   res.OrderID,
					"partnerId": res.PartnerID,
					"errors":    apperr.ValidationResult{Errors: res.Errors}.Messages(),
				}
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"total":    len(results),
			"accepted": accepted,
			"rejected": rejected,
			"results":  rendered,
		})
	}
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	f, p, sort, errs := query.ParseOrderQuery(r.URL.Query())
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "errors": errs})
		return
	}
	page, err := s.orders.FindMany(r.Context(), f, p, sort)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"data":       page.Data,
		"total":      page.Total,
		"page":       page.Page,
		"pageSize":   page.PageSize,
		"totalPages": page.TotalPages,
		"hasMore":    page.HasMore,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ev, err := s.orders.FindByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	if ev == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "order": ev})
}

func (s *Server) handleGetOrderByExternalID(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := partnerFromPath(vars)
	if !ok {
		writeFieldErrors(w, http.StatusBadRequest, "partner", string(apperr.CodeUnknownPartner), "unknown partner id")
		return
	}
	ev, err := s.orders.FindByExternalID(r.Context(), vars["extId"], id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	if ev == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "order": ev})
}

func (s *Server) handleOrdersByPartner(w http.ResponseWriter, r *http.Request) {
	id, ok := partnerFromPath(mux.Vars(r))
	if !ok {
		writeFieldErrors(w, http.StatusBadRequest, "partner", string(apperr.CodeUnknownPartner), "unknown partner id")
		return
	}
	_, p, sort, errs := query.ParseOrderQuery(r.URL.Query())
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "errors": errs})
		return
	}
	f := orderrepo.Filters{PartnerID: &id}
	page, err := s.orders.FindMany(r.Context(), f, p, sort)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok", "data": page.Data, "total": page.Total, "page": page.Page,
		"pageSize": page.PageSize, "totalPages": page.TotalPages, "hasMore": page.HasMore,
	})
}

func (s *Server) handleOrdersByCustomer(w http.ResponseWriter, r *http.Request) {
	customerID := mux.Vars(r)["customerId"]
	_, p, sort, errs := query.ParseOrderQuery(r.URL.Query())
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "errors": errs})
		return
	}
	f := orderrepo.Filters{CustomerID: customerID}
	page, err := s.orders.FindMany(r.Context(), f, p, sort)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok", "data": page.Data, "total": page.Total, "page": page.Page,
		"pageSize": page.PageSize, "totalPages": page.TotalPages, "hasMore": page.HasMore,
	})
}

func (s *Server) handleOrderStats(w http.ResponseWriter, r *http.Request) {
	f, _, _, errs := query.ParseOrderQuery(r.URL.Query())
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "errors": errs})
		return
	}
	stats, err := s.orders.GetStatistics(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "statistics": stats})
}

func (s *Server) handleListErrors(w http.ResponseWriter, r *http.Request) {
	f, p, sortOrder, errs := query.ParseErrorQuery(r.URL.Query())
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "errors": errs})
		return
	}
	page, err := s.errs.FindMany(r.Context(), f, p, sortOrder)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok", "data": page.Data, "total": page.Total, "page": page.Page,
		"pageSize": page.PageSize, "totalPages": page.TotalPages, "hasMore": page.HasMore,
	})
}

func (s *Server) handleGetError(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ev, err := s.errs.FindByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	if ev == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "error": ev})
}

func (s *Server) handleErrorStats(w http.ResponseWriter, r *http.Request) {
	f, _, _, errs := query.ParseErrorQuery(r.URL.Query())
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "errors": errs})
		return
	}
	stats, err := s.errs.GetStatistics(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "statistics": stats})
}
