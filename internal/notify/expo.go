package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/spin-rewards/internal/domain/user"
)

// DefaultExpoURL is the Expo push API endpoint.
const DefaultExpoURL = "https://exp.host/--/api/v2/push/send"

// ExpoConfig configures the Expo push channel.
type ExpoConfig struct {
	URL         string
	AccessToken string
}

// ExpoChannel sends push notifications through the Expo push service.
type ExpoChannel struct {
	client *http.Client
	url    string
	token  string
}

// NewExpoChannel returns an ExpoChannel. A nil client uses a traced
// default client.
func NewExpoChannel(cfg ExpoConfig, client *http.Client) *ExpoChannel {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if cfg.URL == "" {
		cfg.URL = DefaultExpoURL
	}
	return &ExpoChannel{client: client, url: cfg.URL, token: cfg.AccessToken}
}

func (c *ExpoChannel) Name() string { return "push" }

// Send pushes m to the user's registered device.
func (c *ExpoChannel) Send(ctx context.Context, to user.Contact, m Message) error {
	if to.PushToken == "" {
		return ErrSkip
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(encodePush(to.PushToken, m)))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send push")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("expo: status %d: %s", resp.StatusCode, body)
	}
	return checkPushTicket(body)
}

func encodePush(token string, m Message) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("to", func(e *jx.Encoder) { e.Str(token) })
		e.Field("title", func(e *jx.Encoder) { e.Str(m.Title) })
		e.Field("body", func(e *jx.Encoder) { e.Str(m.Body) })
		e.Field("data", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for k, v := range m.Data() {
					e.Field(k, func(e *jx.Encoder) { e.Str(v) })
				}
			})
		})
		e.Field("sound", func(e *jx.Encoder) { e.Str("default") })
		e.Field("priority", func(e *jx.Encoder) { e.Str("high") })
	})
	return e.Bytes()
}

// checkPushTicket inspects {"data": {"status": "ok"|"error", "message": ...}}.
func checkPushTicket(body []byte) error {
	var status, message string
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "data" {
			return d.Skip()
		}
		if d.Next() != jx.Object {
			// Batch responses carry an array; single sends never do.
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "status":
				v, err := d.Str()
				status = v
				return err
			case "message":
				v, err := d.Str()
				message = v
				return err
			default:
				return d.Skip()
			}
		})
	}); err != nil {
		return errors.Wrap(err, "decode push ticket")
	}
	if status == "error" {
		return fmt.Errorf("expo: %s", message)
	}
	return nil
}
