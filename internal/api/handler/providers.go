package handler

import (
	"net/http"

	"github.com/newthinker/switchboard/internal/api/response"
	"github.com/newthinker/switchboard/internal/catalog"
	"github.com/newthinker/switchboard/internal/config"
	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/health"
)

// ProviderView is a configured provider as the API shows it.
type ProviderView struct {
	config.ProviderConfig
	ResolvedType core.ProviderType `json:"resolved_type"`
	Local        bool              `json:"local"`
	Order        int               `json:"order"`
}

// ProviderHandler lists providers, their health and the model catalog.
type ProviderHandler struct {
	dispatcher Dispatcher
	checker    *health.Checker
	poller     *health.Poller
	catalog    *catalog.Catalog
}

// NewProviderHandler creates a provider handler. poller may be nil.
func NewProviderHandler(dispatcher Dispatcher, checker *health.Checker, poller *health.Poller, cat *catalog.Catalog) *ProviderHandler {
	return &ProviderHandler{dispatcher: dispatcher, checker: checker, poller: poller, catalog: cat}
}

// List returns providers in dispatch order with secrets redacted.
func (h *ProviderHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := h.dispatcher.Providers()
	out := make([]ProviderView, 0, len(entries))
	for i, e := range entries {
		out = append(out, ProviderView{
			ProviderConfig: e.Config.Redacted(),
			ResolvedType:   e.Provider.Type(),
			Local:          e.Provider.Type().IsLocal(),
			Order:          i + 1,
		})
	}
	response.JSON(w, http.StatusOK, out)
}

// Health checks every provider now. With ?cached=true and a running
// poller it returns the last polled statuses instead.
func (h *ProviderHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("cached") == "true" && h.poller != nil {
		if latest := h.poller.Latest(); len(latest) > 0 {
			response.JSON(w, http.StatusOK, latest)
			return
		}
	}
	response.JSON(w, http.StatusOK, h.checker.CheckAll(r.Context(), h.dispatcher.Providers()))
}

// Models lists catalog entries, optionally narrowed by ?provider= and
// ?capability=.
func (h *ProviderHandler) Models(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider := core.ProviderType(q.Get("provider"))
	capability := core.Capability(q.Get("capability"))
	response.JSON(w, http.StatusOK, h.catalog.Filter(provider, capability))
}
