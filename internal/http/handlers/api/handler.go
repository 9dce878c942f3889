package api

import "github.com/tickrace/tickrace-sub001/internal/provider"

// Handler entry point for the settlement API.
type Handler struct {
	*provider.Container
}

// New creates the handler.
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
