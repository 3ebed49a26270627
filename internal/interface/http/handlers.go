package httpservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arkade-os/fee-distributor/internal/config"
	"github.com/arkade-os/fee-distributor/internal/core/application"
	"github.com/arkade-os/fee-distributor/pkg/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type handler struct {
	svc       application.Service
	adminSvc  application.AdminService
	heartbeat time.Duration

	events    *broker[eventMessage]
	done      chan struct{}
	closeOnce sync.Once
}

func newHandler(
	svc application.Service, adminSvc application.AdminService, heartbeat time.Duration,
) *handler {
	h := &handler{
		svc:       svc,
		adminSvc:  adminSvc,
		heartbeat: heartbeat,
		events:    newBroker[eventMessage](),
		done:      make(chan struct{}),
	}

	go h.listenToEvents()

	return h
}

// close ends the open event streams.
func (h *handler) close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

// listenToEvents forwards events from the app service to the event streams
// until the service is stopped.
func (h *handler) listenToEvents() {
	defer h.close()

	for events := range h.svc.GetEventsChannel(context.Background()) {
		if !h.events.hasListeners() {
			continue
		}
		for _, event := range events {
			eventType := event.GetType().String()
			count := h.events.publish(eventType, eventMessage{Type: eventType, Event: event})
			log.Debugf("forwarded event %s to %d listeners", eventType, count)
		}
	}
}

func (h *handler) initiate(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.InitiateDistribute(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, initiateResponse{
		CycleID:   res.CycleID,
		RequestID: res.RequestID.Hex(),
		State:     res.State.String(),
	})
}

func (h *handler) readResponse(w http.ResponseWriter, r *http.Request) {
	var body readResponseRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	requestID, payload, err := body.parse()
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.svc.OnAggregationResponse(
		r.Context(), requestID, body.Timestamp, payload,
	); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) confirmBridging(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.ConfirmBridgingCompleted(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stateResponse{State: state.String()})
}

func (h *handler) distribute(w http.ResponseWriter, r *http.Request) {
	var body distributeRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := body.parse()
	if err != nil {
		writeError(w, r, err)
		return
	}

	report, err := h.svc.Distribute(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toReportResponse(*report))
}

func (h *handler) sendReferralRewards(w http.ResponseWriter, r *http.Request) {
	var body referralRewardsRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := body.parse()
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.svc.SendReferralRewards(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.GetStatus(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(*status))
}

// getEvents streams the distribution events as server-sent events. The
// optional type query params filter the streamed event types.
func (h *handler) getEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, errors.INTERNAL_ERROR.New("streaming not supported"))
		return
	}

	topics := make([]string, 0)
	for _, value := range r.URL.Query()["type"] {
		topics = append(topics, strings.Split(value, ",")...)
	}
	listener := newListener[eventMessage](uuid.NewString(), topics)

	h.events.pushListener(listener)
	defer h.events.removeListener(listener.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case msg := <-listener.ch:
			buf, err := json.Marshal(msg)
			if err != nil {
				log.WithError(err).Warn("failed to serialize event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, buf); err != nil {
				return
			}
			flusher.Flush()
			ticker.Reset(h.heartbeat)
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *handler) withdrawTokens(w http.ResponseWriter, r *http.Request) {
	var body withdrawRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	token, receiver, amount, err := body.parse()
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.adminSvc.WithdrawTokens(r.Context(), token, receiver, amount); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getParams(w http.ResponseWriter, r *http.Request) {
	params, err := h.adminSvc.GetParams(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, config.ParamsFromDomain(*params))
}

func (h *handler) updateParams(w http.ResponseWriter, r *http.Request) {
	var body config.Params
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	params, err := body.ToDomain()
	if err != nil {
		writeError(w, r, errors.INVALID_PARAMS.Wrap(err).
			WithMetadata(errors.InvalidParamsMetadata{Field: "params"}))
		return
	}

	if err := h.adminSvc.UpdateParams(r.Context(), *params); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, config.ParamsFromDomain(*params))
}

func (h *handler) listReports(w http.ResponseWriter, r *http.Request) {
	after, err := parseTimeQuery(r, "after")
	if err != nil {
		writeError(w, r, err)
		return
	}
	before, err := parseTimeQuery(r, "before")
	if err != nil {
		writeError(w, r, err)
		return
	}

	reports, err := h.adminSvc.ListReports(r.Context(), after, before)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := listReportsResponse{Reports: make([]reportResponse, 0, len(reports))}
	for _, report := range reports {
		resp.Reports = append(resp.Reports, toReportResponse(report))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) getReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.adminSvc.GetReport(r.Context(), chi.URLParam(r, "cycleId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toReportResponse(*report))
}

func parseTimeQuery(r *http.Request, name string) (int64, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return 0, nil
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, errors.INVALID_PARAMS.New("invalid %s timestamp %q", name, value).
			WithMetadata(errors.InvalidParamsMetadata{Field: name})
	}
	return ts, nil
}
