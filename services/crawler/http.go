package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"chatarchive/lib/scrapers/chat"
)

// SurfaceFactory opens the surface a start request should be crawled
// through.
type SurfaceFactory func(ctx context.Context, req StartRequest) (chat.Surface, error)

type StartRequest struct {
	Target
	// Bridge optionally overrides the render bridge the surface talks to.
	Bridge string `json:"bridge,omitempty"`
}

type AbandonRequest struct {
	Reason string `json:"reason"`
}

type Stats struct {
	Messages int `json:"messages"`
	Channels int `json:"channels"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJson(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Warn("failed to write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJson(w, status, errorResponse{Error: err.Error()})
}

// Handler exposes the control surface of the service over HTTP.
//
//	POST /crawl/start    StartRequest -> Status
//	POST /crawl/stop     -> Status
//	POST /crawl/abandon  AbandonRequest -> Status
//	GET  /crawl/status   -> Status
//	GET  /crawl/events   server-sent Status events
//	GET  /stats          ?channel_id= -> Stats
func (s *Service) Handler(surfaces SurfaceFactory) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /crawl/start", func(w http.ResponseWriter, r *http.Request) {
		var req StartRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if _, _, err := ParseChannelURL(req.URL); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		if s.Status().IsCrawling {
			writeError(w, http.StatusConflict, ErrBusy)
			return
		}
		surface, err := surfaces(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}

		err = s.Start(r.Context(), req.Target, surface)
		switch {
		case errors.Is(err, ErrBusy):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, ErrNotCrawlable):
			writeError(w, http.StatusUnprocessableEntity, err)
		case err != nil:
			writeError(w, http.StatusInternalServerError, err)
		default:
			writeJson(w, http.StatusOK, s.Status())
		}
	})
	mux.HandleFunc("POST /crawl/stop", func(w http.ResponseWriter, r *http.Request) {
		err := s.Stop(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJson(w, http.StatusOK, s.Status())
	})
	mux.HandleFunc("POST /crawl/abandon", func(w http.ResponseWriter, r *http.Request) {
		var req AbandonRequest
		if r.ContentLength != 0 {
			err := json.NewDecoder(r.Body).Decode(&req)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
		err := s.Abandon(r.Context(), req.Reason)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJson(w, http.StatusOK, s.Status())
	})
	mux.HandleFunc("GET /crawl/status", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusOK, s.Status())
	})
	mux.HandleFunc("GET /crawl/events", s.serveEvents)
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		messages, err := s.store.MessageCount(ctx, r.URL.Query().Get("channel_id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		channels, err := s.store.ChannelCount(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJson(w, http.StatusOK, Stats{Messages: messages, Channels: channels})
	})
	return mux
}

func (s *Service) serveEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming is not supported"))
		return
	}

	events := make(ChanObserver, 32)
	unsubscribe := s.Subscribe(events)
	defer unsubscribe()

	w.Header().Set("content-type", "text/event-stream")
	w.Header().Set("cache-control", "no-cache")
	w.WriteHeader(http.StatusOK)

	send := func(status Status) bool {
		payload, err := json.Marshal(status)
		if err != nil {
			return false
		}
		_, err = fmt.Fprintf(w, "event: status\ndata: %s\n\n", payload)
		if err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(s.Status()) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case status := <-events:
			if !send(status) {
				return
			}
		}
	}
}
