package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"sidekick/internal/store"
)

// NotesHandler lists notes the assistant has saved through the note.save
// tool.
type NotesHandler struct {
	Store *store.Store
}

func (h *NotesHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("", h.list)
}

func (h *NotesHandler) list(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	notes, err := h.Store.ListNotes(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if notes == nil {
		notes = []store.Note{}
	}
	return c.JSON(http.StatusOK, notes)
}
