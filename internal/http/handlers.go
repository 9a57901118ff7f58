package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ledger/internal/importer"
	"ledger/internal/ledger"
	"ledger/internal/log"
	"ledger/internal/middleware/ratelimit"
	"ledger/internal/middleware/trace"
)

func (s *Server) handleCurrentTransactions(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, r, NewJSONResponse().Body(s.store.ListCurrent(r.Context())))
}

func (s *Server) handleAllTransactions(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, r, NewJSONResponse().Body(s.store.ListHistory(r.Context())))
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	accountID, id, err := ParseCreateTransaction(r)
	if err != nil {
		writeError(w, r, log.OpInsert, err)
		return
	}

	rec, err := s.store.Insert(r.Context(), accountID, id)
	if err != nil {
		writeError(w, r, log.OpInsert, err)
		return
	}

	writeResponse(w, r, NewJSONResponse().Status(http.StatusCreated).Body(rec))
}

func (s *Server) handleBulkImport(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	data, err := readBody(r)
	if err != nil {
		writeError(w, r, log.OpBulkImport, err)
		return
	}

	batch, err := importer.ParseBytes(data)
	if err != nil {
		writeError(w, r, log.OpBulkImport, err)
		return
	}

	result, err := s.store.BulkImport(r.Context(), accountID, batch)
	if err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Bulk import rejected",
			log.FieldAccountID, accountID,
			log.FieldRowErrors, len(batch.Errors),
			log.FieldError, err)
		writeError(w, r, log.OpBulkImport, err)
		return
	}

	writeResponse(w, r, NewJSONResponse().Body(result))
}

func (s *Server) handleUpdateMemo(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	id, err := ParseTransactionQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, log.OpUpdateMemo, err)
		return
	}
	memo, err := ParseUpdateMemo(r)
	if err != nil {
		writeError(w, r, log.OpUpdateMemo, err)
		return
	}

	if err := s.store.UpdateMemo(r.Context(), accountID, id, memo); err != nil {
		writeError(w, r, log.OpUpdateMemo, err)
		return
	}

	writeResponse(w, r, NewJSONResponse().Message("Memo updated successfully"))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, r, NewJSONResponse().Body(map[string]string{"status": "ok"}))
}

type readyBody struct {
	Status    string             `json:"status"`
	Stats     ledger.Stats       `json:"stats"`
	Requests  trace.Metrics      `json:"requests"`
	RateLimit *ratelimit.Metrics `json:"rate_limit,omitempty"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			writeResponse(w, r, ErrorResponse(http.StatusServiceUnavailable, "Storage unavailable"))
			return
		}
	}

	body := readyBody{
		Status:   "ready",
		Stats:    s.store.Stats(r.Context()),
		Requests: s.tracer.GetMetrics(),
	}
	if s.limiter != nil {
		m := s.limiter.GetMetrics()
		body.RateLimit = &m
	}
	writeResponse(w, r, NewJSONResponse().Body(body))
}
