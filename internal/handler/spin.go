package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// Eligibility reports whether the user may spin now.
func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	businessID, err := queryOptionalID(r, "businessId")
	if err != nil {
		writeError(w, r, err)
		return
	}

	el, err := h.rewards.Eligibility(r.Context(), userID, businessID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("eligible", func(e *jx.Encoder) { e.Bool(el.Eligible) })
			if !el.NextEligibleAt.IsZero() {
				e.Field("nextEligibleAt", func(e *jx.Encoder) { encodeTime(e, el.NextEligibleAt) })
			}
			if !el.LastAttemptAt.IsZero() {
				e.Field("lastSpinAt", func(e *jx.Encoder) { encodeTime(e, el.LastAttemptAt) })
			}
			if el.Reason != "" {
				e.Field("reason", func(e *jx.Encoder) { e.Str(string(el.Reason)) })
			}
		})
	})
}

// Spin grants a reward code if the user is eligible.
func (h *Handler) Spin(w http.ResponseWriter, r *http.Request) {
	var (
		userID     int64
		businessID *int64
	)
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "userId":
			userID, err = decodeID(d, "userId")
		case "businessId":
			businessID, err = decodeOptionalID(d, "businessId")
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if userID == 0 {
		writeError(w, r, missing("userId"))
		return
	}

	res, err := h.rewards.Spin(r.Context(), userID, businessID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c := res.Code
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
			e.Field("amount", func(e *jx.Encoder) { encodeAmount(e, c.Amount) })
			e.Field("label", func(e *jx.Encoder) { e.Str(res.Label) })
			e.Field("businessId", func(e *jx.Encoder) { encodeOptionalID(e, c.BusinessID) })
			if res.BusinessName != "" {
				e.Field("businessName", func(e *jx.Encoder) { e.Str(res.BusinessName) })
			}
			e.Field("expiresAt", func(e *jx.Encoder) { encodeTime(e, c.ExpiresAt) })
		})
	})
}
