package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yofarm-hub/ussd/internal/ussd"
)

const (
	formFieldPhone = "phoneNumber"
	formFieldText  = "text"
)

// CallbackService answers one USSD callback.
type CallbackService interface {
	HandleCallback(ctx context.Context, phone, text string) ussd.Response
}

// USSDHandler serves the gateway callback.
type USSDHandler struct {
	service CallbackService
}

func NewUSSDHandler(service CallbackService) *USSDHandler {
	return &USSDHandler{service: service}
}

// USSDRouter registers the callback on the given router. Gateways post a
// form; GET with query parameters is accepted for manual testing.
func USSDRouter(r chi.Router, service CallbackService) {
	handler := NewUSSDHandler(service)

	r.Post("/", handler.Callback)
	r.Get("/", handler.Callback)
}

// Callback replies with "CON <menu>" or "END <message>" as plain text.
func (h *USSDHandler) Callback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(ussd.End(ussd.MsgInvalidSession).String()))
		return
	}

	resp := h.service.HandleCallback(r.Context(), r.Form.Get(formFieldPhone), r.Form.Get(formFieldText))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(resp.String()))
}
