package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-go-golems/loom/pkg/inference"
	"github.com/go-go-golems/loom/pkg/inference/engine"
	"github.com/go-go-golems/loom/pkg/inference/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sessions over HTTP",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", ":8080", "Listen address")
	cmd.Flags().Bool("watch", true, "Reload settings when the settings files change")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	watch, _ := cmd.Flags().GetBool("watch")

	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, watermill.NopLogger{})
	defer func() {
		_ = pubsub.Close()
	}()

	a, err := newApp(inference.NewConversationSink(pubsub))
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(&server{sessions: a.sessions, subscriber: pubsub}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if watch {
		eg.Go(func() error {
			return watchSettings(ctx, a.settings)
		})
	}
	return eg.Wait()
}

type server struct {
	sessions   *session.Manager
	subscriber message.Subscriber
}

func newRouter(s *server) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Post("/messages", s.postMessage)
		r.Delete("/turn", s.cancelTurn)
		r.Get("/history", s.history)
		r.Get("/events", s.events)
	})
	return r
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	*session.Result
	Error string `json:"error,omitempty"`
}

type errResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("json encode failed")
	}
}

func statusOf(err error) int {
	var httpErr *engine.HTTPError
	switch {
	case engine.IsConfigurationError(err):
		return http.StatusBadRequest
	case errors.As(err, &httpErr), errors.Is(err, engine.ErrPrematureClose), errors.Is(err, engine.ErrMalformedEvent):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// postMessage runs one line of input. The turn is cancelled when the client
// goes away or DELETE /sessions/{id}/turn is called.
func (s *server) postMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResponse{Error: "invalid JSON body"})
		return
	}

	h, err := s.sessions.Start(r.Context(), id, req.Text, session.InputOptions{})
	if errors.Is(err, session.ErrSessionAlreadyActive) {
		writeJSON(w, http.StatusConflict, errResponse{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errResponse{Error: err.Error()})
		return
	}

	res, err := h.Wait()
	switch {
	case err != nil && res == nil:
		writeJSON(w, statusOf(err), errResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, statusOf(err), messageResponse{Result: res, Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, messageResponse{Result: res})
	}
}

func (s *server) cancelTurn(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Cancel(chi.URLParam(r, "id")); err != nil {
		writeJSON(w, http.StatusNotFound, errResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) history(w http.ResponseWriter, r *http.Request) {
	h, err := s.sessions.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// events streams the normalized stream events of the session's current
// conversation, or of ?conversation=<id>.
func (s *server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	conversationID := r.URL.Query().Get("conversation")
	if conversationID == "" {
		conversationID = s.sessions.Ensure(chi.URLParam(r, "id")).Cursor().ConversationID
	}

	ctx := r.Context()
	msgs, err := s.subscriber.Subscribe(ctx, inference.ConversationTopic(conversationID))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "event: ready\ndata: {\"conversationId\":%q}\n\n", conversationID)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			_, err := fmt.Fprintf(w, "event: stream\ndata: %s\n\n", msg.Payload)
			msg.Ack()
			if err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
