package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// manualSyncTimeout bounds an operator-triggered run; scheduled ticks
// use a background context instead.
const manualSyncTimeout = 10 * time.Minute

// requireAuth wraps a handler function to require authentication
func requireAuth(handler func(*core.RequestEvent) error) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if e.Auth == nil {
			return apis.NewUnauthorizedError("Authentication required", nil)
		}
		return handler(e)
	}
}

// InitializeSyncService sets up the sync API endpoints.
func InitializeSyncService(app *pocketbase.PocketBase, e *core.ServeEvent) error {
	service := GetService(app)

	e.Router.GET("/api/kdp/status", requireAuth(func(e *core.RequestEvent) error {
		return handleStatus(e, service)
	}))

	e.Router.POST("/api/kdp/email", requireAuth(func(e *core.RequestEvent) error {
		return handleSetEmail(e, service)
	}))

	e.Router.DELETE("/api/kdp/email", requireAuth(func(e *core.RequestEvent) error {
		return handleClearEmail(e, service)
	}))

	e.Router.POST("/api/kdp/sync", requireAuth(func(e *core.RequestEvent) error {
		return handleManualSync(e, service)
	}))

	e.Router.GET("/api/kdp/connection", requireAuth(func(e *core.RequestEvent) error {
		return handleConnectionProbe(e, service)
	}))

	e.Router.GET("/api/kdp/events", requireAuth(func(e *core.RequestEvent) error {
		return handleEventStream(e, service)
	}))

	return nil
}

// handleStatus reports both cadence records plus runtime flags.
func handleStatus(e *core.RequestEvent, s *Service) error {
	inFlight := map[string]bool{
		CadenceInitial: false,
		CadenceDaily:   false,
	}
	if s.runner != nil {
		inFlight[CadenceInitial] = s.runner.InFlight(CadenceInitial)
		inFlight[CadenceDaily] = s.runner.InFlight(CadenceDaily)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"email_configured": s.status.Email() != "",
		"initial":          s.status.Initial(),
		"daily":            s.status.Daily(),
		"in_flight":        inFlight,
	})
}

func handleSetEmail(e *core.RequestEvent, s *Service) error {
	var body struct {
		Email string `json:"email"`
	}
	if err := e.BindBody(&body); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}

	email := strings.TrimSpace(body.Email)
	if email == "" || !strings.Contains(email, "@") {
		return apis.NewBadRequestError("A valid email address is required", nil)
	}

	if err := s.status.SetEmail(email); err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Failed to save email", err)
	}

	s.bus.Publish(Event{
		Type:    EventStatusChanged,
		Payload: map[string]any{"email_configured": true},
	})
	return e.JSON(http.StatusOK, map[string]any{"success": true})
}

func handleClearEmail(e *core.RequestEvent, s *Service) error {
	if err := s.status.SetEmail(""); err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Failed to clear email", err)
	}

	s.bus.Publish(Event{
		Type:    EventStatusChanged,
		Payload: map[string]any{"email_configured": false},
	})
	return e.JSON(http.StatusOK, map[string]any{"success": true})
}

// handleManualSync kicks off a tick outside the schedule. The work
// runs in the background so the request returns immediately.
func handleManualSync(e *core.RequestEvent, s *Service) error {
	if s.clientErr != nil {
		return apis.NewApiError(http.StatusServiceUnavailable, "Report sync is not configured", s.clientErr)
	}
	if s.status.Email() == "" {
		return apis.NewBadRequestError("Configure a delivery email before syncing", nil)
	}
	if s.runner.InFlight(CadenceInitial) || s.runner.InFlight(CadenceDaily) {
		return apis.NewApiError(http.StatusConflict, "A sync is already running", nil)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), manualSyncTimeout)
		defer cancel()
		s.scheduler.Tick(ctx)
	}()

	return e.JSON(http.StatusAccepted, map[string]any{"started": true})
}

// handleConnectionProbe checks that the stored session still reaches
// the portal by pulling a token and the books metadata.
func handleConnectionProbe(e *core.RequestEvent, s *Service) error {
	if s.clientErr != nil {
		return apis.NewApiError(http.StatusServiceUnavailable, "Report sync is not configured", s.clientErr)
	}

	ctx, cancel := context.WithTimeout(e.Request.Context(), 30*time.Second)
	defer cancel()

	connected := false
	detail := ""
	var account, books map[string]any
	token, err := s.client.RetrieveToken(ctx)
	if err != nil {
		detail = err.Error()
	} else if books, err = s.client.BooksMetadata(ctx, token); err != nil {
		detail = err.Error()
	} else {
		connected = true
		// Account details are informational; a failure here does not
		// downgrade the probe.
		if account, err = s.client.CustomerMetadata(ctx, token); err != nil {
			account = nil
		}
	}

	s.bus.Publish(Event{
		Type:    EventInitResponse,
		Payload: map[string]any{"connected": connected, "error": detail},
	})

	return e.JSON(http.StatusOK, map[string]any{
		"connected": connected,
		"error":     detail,
		"account":   account,
		"books":     books,
	})
}

// handleEventStream pushes bus events to the client as server-sent
// events until the client disconnects.
func handleEventStream(e *core.RequestEvent, s *Service) error {
	flusher, ok := e.Response.(http.Flusher)
	if !ok {
		return apis.NewApiError(http.StatusInternalServerError, "Streaming unsupported", nil)
	}

	e.Response.Header().Set("Content-Type", "text/event-stream")
	e.Response.Header().Set("Cache-Control", "no-cache")
	e.Response.Header().Set("Connection", "keep-alive")
	e.Response.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := s.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-e.Request.Context().Done():
			return nil
		case ev, open := <-events:
			if !open {
				return nil
			}
			blob, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(e.Response, "event: %s\ndata: %s\n\n", ev.Type, blob); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}
