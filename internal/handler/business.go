package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/spin-rewards/internal/domain/reward"
)

// GetSpinSettings returns a business's wheel switch and reward amounts.
func (h *Handler) GetSpinSettings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.rewards.SpinSettings(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSpinSettings(w, s)
}

// UpdateSpinSettings replaces a business's wheel switch and reward amounts.
// Amounts may be given as numbers or numeric strings.
func (h *Handler) UpdateSpinSettings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var (
		enabled    bool
		enabledSet bool
		rewards    []string
	)
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "enabled":
			v, err := d.Bool()
			if err != nil {
				return err
			}
			enabled, enabledSet = v, true
			return nil
		case "rewards":
			return d.Arr(func(d *jx.Decoder) error {
				switch d.Next() {
				case jx.Number:
					n, err := d.Num()
					if err != nil {
						return err
					}
					rewards = append(rewards, n.String())
					return nil
				case jx.String:
					s, err := d.Str()
					if err != nil {
						return err
					}
					rewards = append(rewards, strings.TrimSpace(s))
					return nil
				default:
					return &reward.ValidationError{Field: "rewards", Message: "entries must be numbers"}
				}
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if !enabledSet {
		writeError(w, r, missing("enabled"))
		return
	}

	s, err := h.rewards.UpdateSpinSettings(r.Context(), id, enabled, rewards)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSpinSettings(w, s)
}

func writeSpinSettings(w http.ResponseWriter, s *reward.SpinSettings) {
	amounts := func(e *jx.Encoder, p reward.Policy) {
		e.Arr(func(e *jx.Encoder) {
			for _, raw := range p.Strings() {
				e.Num(jx.Num(raw))
			}
		})
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("businessId", func(e *jx.Encoder) { e.Int64(s.Business.ID) })
			e.Field("name", func(e *jx.Encoder) { e.Str(s.Business.Name) })
			e.Field("enabled", func(e *jx.Encoder) { e.Bool(s.Business.SpinEnabled) })
			e.Field("rewards", func(e *jx.Encoder) { amounts(e, s.Business.Rewards) })
			e.Field("effectiveRewards", func(e *jx.Encoder) { amounts(e, s.Effective) })
		})
	})
}
