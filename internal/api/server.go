// Package api exposes the negotiation pipeline over a small JSON API.
// The HTTP surface is deliberately thin: parsing, status mapping and
// nothing else — every rule lives in the pipeline and engine.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"accordo/internal/negotiation"
	"accordo/internal/pipeline"
)

// Server is the HTTP API server wrapping the negotiation pipeline.
type Server struct {
	pipeline *pipeline.Pipeline
	store    pipeline.Store
}

// New creates the API server.
func New(p *pipeline.Pipeline, store pipeline.Store) *Server {
	return &Server{pipeline: p, store: store}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/deals", s.handleCreateDeal)
	mux.HandleFunc("GET /api/deals/{dealID}", s.handleGetDeal)
	mux.HandleFunc("POST /api/deals/{dealID}/messages", s.handleVendorMessage)
	mux.HandleFunc("POST /api/deals/{dealID}/respond", s.handleGenerateResponse)
	mux.HandleFunc("GET /api/deals/{dealID}/messages", s.handleListMessages)
	mux.HandleFunc("GET /api/deals/{dealID}/meso", s.handleListMesoRounds)
	mux.HandleFunc("POST /api/deals/{dealID}/meso/{mesoID}/select", s.handleSelectMesoOption)
	mux.HandleFunc("POST /api/deals/{dealID}/resume", s.handleResumeDeal)
	mux.HandleFunc("POST /api/deals/{dealID}/archive", s.handleArchiveDeal)
	mux.HandleFunc("DELETE /api/deals/{dealID}", s.handleDeleteDeal)
	mux.HandleFunc("GET /api/deals/{dealID}/suggestions", s.handleGetSuggestions)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"ok":                true,
		"suggestion_cached": s.pipeline.Suggestions().Len(),
	})
}

func (s *Server) handleCreateDeal(w http.ResponseWriter, r *http.Request) {
	var params pipeline.CreateDealParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	deal, err := s.pipeline.CreateDeal(r.Context(), params)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, deal)
}

func (s *Server) handleGetDeal(w http.ResponseWriter, r *http.Request) {
	deal, err := s.store.GetDeal(r.Context(), r.PathValue("dealID"))
	if err != nil && deal == nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, deal)
}

func (s *Server) handleVendorMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	msg, acc, err := s.pipeline.SaveVendorMessage(r.Context(), r.PathValue("dealID"), body.Content)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"message": msg, "accumulated_offer": acc})
}

func (s *Server) handleGenerateResponse(w http.ResponseWriter, r *http.Request) {
	msg, err := s.pipeline.GeneratePMResponse(r.Context(), r.PathValue("dealID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.ListMessages(r.Context(), r.PathValue("dealID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, msgs)
}

func (s *Server) handleListMesoRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.store.ListMesoRounds(r.Context(), r.PathValue("dealID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, rounds)
}

func (s *Server) handleSelectMesoOption(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OptionID string `json:"option_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	err := s.pipeline.SelectMesoOption(r.Context(), r.PathValue("dealID"), r.PathValue("mesoID"), body.OptionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleResumeDeal(w http.ResponseWriter, r *http.Request) {
	deal, err := s.pipeline.ResumeDeal(r.Context(), r.PathValue("dealID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, deal)
}

func (s *Server) handleArchiveDeal(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.ArchiveDeal(r.Context(), r.PathValue("dealID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleDeleteDeal(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.DeleteDeal(r.Context(), r.PathValue("dealID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleGetSuggestions(w http.ResponseWriter, r *http.Request) {
	deal, err := s.store.GetDeal(r.Context(), r.PathValue("dealID"))
	if err != nil && deal == nil {
		writeDomainError(w, err)
		return
	}
	entry, ok := s.pipeline.Suggestions().Get(deal.ID, deal.Round+1)
	if !ok {
		writeJSON(w, map[string]any{"suggestions": []string{}, "cached": false})
		return
	}
	writeJSON(w, map[string]any{"suggestions": entry.Suggestions, "source": entry.Source, "cached": true})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeDomainError maps the engine's error kinds onto transport codes.
// Internal details never leak: unexpected errors surface opaquely.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, negotiation.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, negotiation.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, negotiation.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
