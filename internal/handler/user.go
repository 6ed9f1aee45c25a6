package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// RegisterPushToken stores the Expo push token of a user's device.
func (h *Handler) RegisterPushToken(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var token string
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "pushToken" {
			return d.Skip()
		}
		v, err := d.Str()
		token = v
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if token == "" {
		writeError(w, r, missing("pushToken"))
		return
	}

	if err := h.tokens.RegisterPushToken(r.Context(), id, token); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
