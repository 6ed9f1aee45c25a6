package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/spin-rewards/internal/domain/reward"
	"github.com/xenking/spin-rewards/internal/domain/user"
)

// apiError is the JSON error body: {"code", "message", "reason"}.
type apiError struct {
	Status  int
	Message string
	Reason  string
	// Cooldown is set for cooldown rejections.
	Cooldown *reward.CooldownError
}

func (e apiError) write(w http.ResponseWriter) {
	writeJSON(w, e.Status, func(enc *jx.Encoder) {
		enc.Obj(func(enc *jx.Encoder) {
			enc.Field("code", func(enc *jx.Encoder) { enc.Int(e.Status) })
			enc.Field("message", func(enc *jx.Encoder) { enc.Str(e.Message) })
			if e.Reason != "" {
				enc.Field("reason", func(enc *jx.Encoder) { enc.Str(e.Reason) })
			}
			if e.Cooldown != nil {
				enc.Field("nextEligibleAt", func(enc *jx.Encoder) { encodeTime(enc, e.Cooldown.NextEligibleAt) })
				enc.Field("lastSpinAt", func(enc *jx.Encoder) { encodeTime(enc, e.Cooldown.LastAttemptAt) })
			}
		})
	})
}

// mapError converts domain errors to API errors. Unknown errors become 500.
func mapError(err error) apiError {
	var vErr *reward.ValidationError
	if errors.As(err, &vErr) {
		return apiError{Status: http.StatusBadRequest, Message: vErr.Error(), Reason: "invalid_request"}
	}

	var cdErr *reward.CooldownError
	if errors.As(err, &cdErr) {
		return apiError{
			Status:   http.StatusBadRequest,
			Message:  "already spun, try again later",
			Reason:   string(reward.ReasonCooldown),
			Cooldown: cdErr,
		}
	}

	switch {
	case errors.Is(err, reward.ErrBusinessNotFound):
		return apiError{Status: http.StatusNotFound, Message: "business not found", Reason: string(reward.ReasonNotFound)}
	case errors.Is(err, reward.ErrCodeNotFound):
		return apiError{Status: http.StatusNotFound, Message: "code not found", Reason: string(reward.ReasonNotFound)}
	case errors.Is(err, user.ErrNotFound):
		return apiError{Status: http.StatusNotFound, Message: "user not found", Reason: string(reward.ReasonNotFound)}
	case errors.Is(err, reward.ErrCodeUsed),
		errors.Is(err, reward.ErrCodeExpired),
		errors.Is(err, reward.ErrSpinDisabled):
		return apiError{Status: http.StatusBadRequest, Message: err.Error(), Reason: string(reward.ReasonOf(err))}
	case errors.Is(err, user.ErrInvalidPushToken):
		return apiError{Status: http.StatusBadRequest, Message: "invalid Expo push token format", Reason: "invalid_push_token"}
	case errors.Is(err, reward.ErrGenerationExhausted):
		return apiError{Status: http.StatusServiceUnavailable, Message: "could not issue a code, try again", Reason: "unavailable"}
	default:
		return apiError{Status: http.StatusInternalServerError, Message: "internal server error"}
	}
}

// writeError maps err and writes it, logging server-side failures.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := mapError(err)
	if e.Status >= http.StatusInternalServerError {
		fields := []zap.Field{
			zap.String("path", r.URL.Path),
			zap.Error(err),
		}
		if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
			fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
		}
		zctx.From(r.Context()).Error("Request failed", fields...)
	}
	e.write(w)
}
