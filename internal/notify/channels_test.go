package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dm20151123 "github.com/alibabacloud-go/dm-20151123/v2/client"
	dysmsapi "github.com/alibabacloud-go/dysmsapi-20170525/v4/client"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/spin-rewards/internal/domain/reward"
	"github.com/xenking/spin-rewards/internal/domain/user"
)

func decodeObject(t *testing.T, raw []byte) map[string]string {
	t.Helper()
	out := make(map[string]string)
	require.NoError(t, jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		out[key] = raw.String()
		return nil
	}))
	return out
}

func TestExpoChannel_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		got = decodeObject(t, body)
		_, _ = w.Write([]byte(`{"data":{"status":"ok","id":"ticket-1"}}`))
	}))
	defer srv.Close()

	ch := NewExpoChannel(ExpoConfig{URL: srv.URL, AccessToken: "secret"}, srv.Client())
	m := Render(testEvent(7))
	require.NoError(t, ch.Send(context.Background(), user.Contact{ID: 7, PushToken: "ExponentPushToken[abc]"}, m))

	assert.Equal(t, `"ExponentPushToken[abc]"`, got["to"])
	assert.Equal(t, `"You won ₹50 OFF!"`, got["title"])
	assert.Equal(t, `"high"`, got["priority"])
	assert.Contains(t, got["data"], `"code":"SPIN-ABCDEFGHJK"`)
}

func TestExpoChannel_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "http error", status: http.StatusBadGateway, body: `oops`},
		{name: "ticket error", status: http.StatusOK, body: `{"data":{"status":"error","message":"DeviceNotRegistered"}}`},
		{name: "malformed", status: http.StatusOK, body: `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ch := NewExpoChannel(ExpoConfig{URL: srv.URL}, srv.Client())
			err := ch.Send(context.Background(), user.Contact{ID: 7, PushToken: "ExponentPushToken[abc]"}, Render(testEvent(7)))
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrSkip)
		})
	}
}

func TestExpoChannel_NoToken(t *testing.T) {
	ch := NewExpoChannel(ExpoConfig{}, nil)
	assert.Equal(t, DefaultExpoURL, ch.url)
	assert.ErrorIs(t, ch.Send(context.Background(), user.Contact{ID: 7}, Render(testEvent(7))), ErrSkip)
}

type mockMailer struct {
	req     *dm20151123.SingleSendMailAdvanceRequest
	runtime *util.RuntimeOptions
	err     error
}

func (m *mockMailer) SingleSendMailAdvance(req *dm20151123.SingleSendMailAdvanceRequest, runtime *util.RuntimeOptions) (*dm20151123.SingleSendMailResponse, error) {
	m.req, m.runtime = req, runtime
	return &dm20151123.SingleSendMailResponse{}, m.err
}

func TestEmailChannel_Send(t *testing.T) {
	mailer := &mockMailer{}
	ch := &EmailChannel{client: mailer, cfg: EmailConfig{AccountName: "noreply@mail.example.com", FromAlias: "Rewards"}}
	ctx := context.Background()

	assert.ErrorIs(t, ch.Send(ctx, user.Contact{ID: 7}, Render(testEvent(7))), ErrSkip)
	assert.Nil(t, mailer.req)

	require.NoError(t, ch.Send(ctx, user.Contact{ID: 7, Name: "<Asha>", Email: "asha@example.com"}, Render(testEvent(7))))
	require.NotNil(t, mailer.req)
	assert.Equal(t, "asha@example.com", tea.StringValue(mailer.req.ToAddress))
	assert.Equal(t, "noreply@mail.example.com", tea.StringValue(mailer.req.AccountName))
	assert.Equal(t, "You won ₹50 OFF!", tea.StringValue(mailer.req.Subject))
	assert.Contains(t, tea.StringValue(mailer.req.HtmlBody), "&lt;Asha&gt;")

	mailer.err = &tea.SDKError{Code: tea.String("InvalidToAddress"), Message: tea.String("bad address")}
	err := ch.Send(ctx, user.Contact{ID: 7, Email: "asha@example.com"}, Render(testEvent(7)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidToAddress")
}

func TestAliyunChannels_DeadlineBoundsSDKTimeouts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	to := user.Contact{ID: 7, Email: "asha@example.com", Phone: "+919800000000"}

	mailer := &mockMailer{}
	email := &EmailChannel{client: mailer, cfg: EmailConfig{AccountName: "noreply@mail.example.com"}}
	require.NoError(t, email.Send(ctx, to, Render(testEvent(7))))

	sms := &mockSMS{code: "OK"}
	text := &SMSChannel{client: sms, cfg: SMSConfig{TemplateCode: "SMS_1"}}
	require.NoError(t, text.Send(ctx, to, Render(testEvent(7))))

	for name, opts := range map[string]*util.RuntimeOptions{"email": mailer.runtime, "sms": sms.runtime} {
		require.NotNil(t, opts, name)
		require.NotNil(t, opts.ReadTimeout, name)
		require.NotNil(t, opts.ConnectTimeout, name)
		assert.InDelta(t, 2000, *opts.ReadTimeout, 500, name)
		assert.Equal(t, *opts.ReadTimeout, *opts.ConnectTimeout, name)
	}

	assert.Nil(t, runtimeOptions(context.Background()).ReadTimeout, "no deadline, SDK defaults")

	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	assert.ErrorIs(t, email.Send(expired, to, Render(testEvent(7))), context.DeadlineExceeded)
}

type mockSMS struct {
	req     *dysmsapi.SendSmsRequest
	runtime *util.RuntimeOptions
	code    string
	err     error
}

func (m *mockSMS) SendSmsWithOptions(req *dysmsapi.SendSmsRequest, runtime *util.RuntimeOptions) (*dysmsapi.SendSmsResponse, error) {
	m.req, m.runtime = req, runtime
	if m.err != nil {
		return nil, m.err
	}
	return &dysmsapi.SendSmsResponse{Body: &dysmsapi.SendSmsResponseBody{
		Code:    tea.String(m.code),
		Message: tea.String("msg"),
	}}, nil
}

func TestSMSChannel_Send(t *testing.T) {
	sms := &mockSMS{code: "OK"}
	ch := &SMSChannel{client: sms, cfg: SMSConfig{SignName: "Rewards", TemplateCode: "SMS_1"}}
	ctx := context.Background()
	to := user.Contact{ID: 7, Phone: "+919800000000"}

	require.NoError(t, ch.Send(ctx, to, Render(testEvent(7))))
	assert.Equal(t, "+919800000000", tea.StringValue(sms.req.PhoneNumbers))
	assert.Equal(t, "SMS_1", tea.StringValue(sms.req.TemplateCode))
	assert.Equal(t, `{"code":"SPIN-ABCDEFGHJK","amount":"₹50 OFF"}`, tea.StringValue(sms.req.TemplateParam))

	redeemed := testEvent(7)
	redeemed.Kind = reward.EventCodeRedeemed
	assert.ErrorIs(t, ch.Send(ctx, to, Render(redeemed)), ErrSkip)
	assert.ErrorIs(t, ch.Send(ctx, user.Contact{ID: 7}, Render(testEvent(7))), ErrSkip)

	sms.code = "isv.BUSINESS_LIMIT_CONTROL"
	require.Error(t, ch.Send(ctx, to, Render(testEvent(7))))

	sms.err = errors.New("network")
	require.Error(t, ch.Send(ctx, to, Render(testEvent(7))))
}

type mockWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.msgs = append(m.msgs, msgs...)
	return m.err
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func TestEventChannel_Send(t *testing.T) {
	w := &mockWriter{}
	ch := &EventChannel{w: w}

	e := testEvent(7)
	e.Code.BusinessID = new(int64)
	*e.Code.BusinessID = 3
	require.NoError(t, ch.Send(context.Background(), user.Contact{ID: 7}, Render(e)))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "7", string(msg.Key))
	assert.Equal(t, e.OccurredAt, msg.Time)

	got := decodeObject(t, msg.Value)
	assert.Equal(t, `"code.issued"`, got["type"])
	assert.Equal(t, `7`, got["userId"])
	assert.Equal(t, `3`, got["businessId"])
	assert.Equal(t, `50`, got["amount"])
	assert.Equal(t, `"SPIN-ABCDEFGHJK"`, got["code"])

	require.NoError(t, ch.Close())
	assert.True(t, w.closed)

	w.err = errors.New("broker down")
	require.Error(t, ch.Send(context.Background(), user.Contact{ID: 7}, Render(e)))
}

func TestEncodeEvent_GlobalCode(t *testing.T) {
	got := decodeObject(t, encodeEvent(uuid.New(), Render(testEvent(7))))
	assert.Equal(t, "null", got["businessId"])
}

func TestHeaderCarrier(t *testing.T) {
	var msg kafka.Message
	c := headerCarrier{msg: &msg}

	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	c.Set("tracestate", "c")

	assert.Equal(t, "b", c.Get("traceparent"))
	assert.Equal(t, "", c.Get("missing"))
	assert.Equal(t, []string{"traceparent", "tracestate"}, c.Keys())
}
