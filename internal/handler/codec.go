package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/spin-rewards/internal/domain/reward"
)

const maxBodyBytes = 1 << 20

// writeJSON encodes the body produced by fn with the given status.
func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// decodeBody runs fn for every field of the JSON object in the request body.
func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return &reward.ValidationError{Field: "body", Message: "unreadable"}
	}
	if len(data) == 0 {
		return &reward.ValidationError{Field: "body", Message: "required"}
	}
	if err := jx.DecodeBytes(data).Obj(fn); err != nil {
		var vErr *reward.ValidationError
		if errors.As(err, &vErr) {
			return vErr
		}
		return &reward.ValidationError{Field: "body", Message: "malformed JSON"}
	}
	return nil
}

// decodeID reads a positive id given as a number or a numeric string.
func decodeID(d *jx.Decoder, field string) (int64, error) {
	var raw string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return 0, err
		}
		raw = n.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return 0, err
		}
		raw = s
	default:
		if err := d.Skip(); err != nil {
			return 0, err
		}
	}
	return parseID(raw, field)
}

// decodeOptionalID is decodeID that maps null and "" to nil.
func decodeOptionalID(d *jx.Decoder, field string) (*int64, error) {
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		id, err := parseID(s, field)
		if err != nil {
			return nil, err
		}
		return &id, nil
	}
	id, err := decodeID(d, field)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseID(raw, field string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, &reward.ValidationError{Field: field, Message: "must be a positive integer"}
	}
	return id, nil
}

// queryID reads a required positive id query parameter.
func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, &reward.ValidationError{Field: name, Message: "required"}
	}
	return parseID(raw, name)
}

// queryOptionalID reads an optional positive id query parameter.
func queryOptionalID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := parseID(raw, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// pathID reads a positive id path wildcard.
func pathID(r *http.Request, name string) (int64, error) {
	return parseID(r.PathValue(name), name)
}

func encodeAmount(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func encodeOptionalID(e *jx.Encoder, id *int64) {
	if id == nil {
		e.Null()
		return
	}
	e.Int64(*id)
}
