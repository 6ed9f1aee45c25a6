package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/spin-rewards/internal/domain/reward"
)

type codeRequest struct {
	Code       string
	BusinessID *int64
}

func decodeCodeRequest(w http.ResponseWriter, r *http.Request) (codeRequest, error) {
	var req codeRequest
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			req.Code, err = d.Str()
		case "businessId":
			req.BusinessID, err = decodeOptionalID(d, "businessId")
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return req, err
	}
	if strings.TrimSpace(req.Code) == "" {
		return req, missing("code")
	}
	return req, nil
}

// ValidateCode checks a code without consuming it.
func (h *Handler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCodeRequest(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	v, err := h.rewards.ValidateCode(r.Context(), req.Code, req.BusinessID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("valid", func(e *jx.Encoder) { e.Bool(v.Valid) })
			if !v.Valid {
				e.Field("reason", func(e *jx.Encoder) { e.Str(string(v.Reason)) })
				return
			}
			c := v.Code
			e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
			e.Field("amount", func(e *jx.Encoder) { encodeAmount(e, c.Amount) })
			e.Field("label", func(e *jx.Encoder) { e.Str(h.rewards.Label(c)) })
			e.Field("businessId", func(e *jx.Encoder) { encodeOptionalID(e, c.BusinessID) })
			e.Field("expiresAt", func(e *jx.Encoder) { encodeTime(e, c.ExpiresAt) })
		})
	})
}

// RedeemCode consumes a code when the order using it is confirmed.
func (h *Handler) RedeemCode(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCodeRequest(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.rewards.RedeemCode(r.Context(), req.Code, req.BusinessID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
			e.Field("amount", func(e *jx.Encoder) { encodeAmount(e, c.Amount) })
			if c.UsedAt != nil {
				e.Field("usedAt", func(e *jx.Encoder) { encodeTime(e, *c.UsedAt) })
			}
		})
	})
}

// History lists a user's codes with their derived status.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
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
	var status reward.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		if status, err = reward.ParseStatus(raw); err != nil {
			writeError(w, r, err)
			return
		}
	}

	entries, err := h.rewards.History(r.Context(), userID, businessID, status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, entry := range entries {
				c := entry.Code
				e.Obj(func(e *jx.Encoder) {
					e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
					e.Field("amount", func(e *jx.Encoder) { encodeAmount(e, c.Amount) })
					e.Field("label", func(e *jx.Encoder) { e.Str(h.rewards.Label(&c)) })
					e.Field("businessId", func(e *jx.Encoder) { encodeOptionalID(e, c.BusinessID) })
					e.Field("businessName", func(e *jx.Encoder) {
						if entry.BusinessName == "" {
							e.Null()
							return
						}
						e.Str(entry.BusinessName)
					})
					e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, c.CreatedAt) })
					e.Field("expiresAt", func(e *jx.Encoder) { encodeTime(e, c.ExpiresAt) })
					e.Field("usedAt", func(e *jx.Encoder) {
						if c.UsedAt == nil {
							e.Null()
							return
						}
						encodeTime(e, *c.UsedAt)
					})
					e.Field("status", func(e *jx.Encoder) { e.Str(string(entry.Status)) })
				})
			}
		})
	})
}

func missing(field string) error {
	return &reward.ValidationError{Field: field, Message: "required"}
}
