package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// ListMenu handles GET /api/menu.
func (h *Handler) ListMenu(w http.ResponseWriter, r *http.Request) {
	items, err := h.menu.List(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}

	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, it := range items {
			item := it
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(item.ID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(item.Name) })
				e.Field("price", func(e *jx.Encoder) { e.Str(item.Price.StringFixed(2)) })
				e.Field("category", func(e *jx.Encoder) { e.Str(item.Category) })
				e.Field("available", func(e *jx.Encoder) { e.Bool(item.Available) })
			})
		}
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(e.Bytes())
}
