package notify

import (
	"context"
	"fmt"
	"html"
	"time"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	dm20151123 "github.com/alibabacloud-go/dm-20151123/v2/client"
	dysmsapi "github.com/alibabacloud-go/dysmsapi-20170525/v4/client"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	credential "github.com/aliyun/credentials-go/credentials"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/spin-rewards/internal/domain/reward"
	"github.com/xenking/spin-rewards/internal/domain/user"
)

// EmailConfig configures the Aliyun DirectMail channel.
type EmailConfig struct {
	AccessKeyID     string
	AccessKeySecret string
	// AccountName is the verified sender address.
	AccountName string
	FromAlias   string
}

// Enabled reports whether credentials and a sender are set.
func (c EmailConfig) Enabled() bool {
	return c.AccessKeyID != "" && c.AccessKeySecret != "" && c.AccountName != ""
}

type mailSender interface {
	SingleSendMailAdvance(request *dm20151123.SingleSendMailAdvanceRequest, runtime *util.RuntimeOptions) (*dm20151123.SingleSendMailResponse, error)
}

// EmailChannel sends notifications through Aliyun DirectMail.
type EmailChannel struct {
	client mailSender
	cfg    EmailConfig
}

// NewEmailChannel creates a DirectMail client from access key credentials.
func NewEmailChannel(cfg EmailConfig) (*EmailChannel, error) {
	cred, err := credential.NewCredential(&credential.Config{
		Type:            tea.String("access_key"),
		AccessKeyId:     tea.String(cfg.AccessKeyID),
		AccessKeySecret: tea.String(cfg.AccessKeySecret),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create credential")
	}
	client, err := dm20151123.NewClient(&openapi.Config{
		Credential: cred,
		Endpoint:   tea.String("dm.aliyuncs.com"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create directmail client")
	}
	return &EmailChannel{client: client, cfg: cfg}, nil
}

func (c *EmailChannel) Name() string { return "email" }

// Send mails m to the user's address.
func (c *EmailChannel) Send(ctx context.Context, to user.Contact, m Message) error {
	if to.Email == "" {
		return ErrSkip
	}
	// The SDK call cannot be cancelled; do not start it late.
	if err := ctx.Err(); err != nil {
		return err
	}

	req := &dm20151123.SingleSendMailAdvanceRequest{
		AccountName:    tea.String(c.cfg.AccountName),
		FromAlias:      tea.String(c.cfg.FromAlias),
		AddressType:    tea.Int32(1),
		ToAddress:      tea.String(to.Email),
		Subject:        tea.String(m.Title),
		HtmlBody:       tea.String(emailBody(to, m)),
		ReplyToAddress: tea.Bool(false),
	}
	if _, err := c.client.SingleSendMailAdvance(req, runtimeOptions(ctx)); err != nil {
		return aliyunError("directmail", err)
	}
	return nil
}

func emailBody(to user.Contact, m Message) string {
	name := to.Name
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("<p>Hi %s,</p><h2>%s</h2><p>%s</p>",
		html.EscapeString(name), html.EscapeString(m.Title), html.EscapeString(m.Body))
}

// SMSConfig configures the Aliyun SMS channel.
type SMSConfig struct {
	AccessKeyID     string
	AccessKeySecret string
	SignName        string
	// TemplateCode must accept the "code" and "amount" parameters.
	TemplateCode string
}

// Enabled reports whether credentials and a template are set.
func (c SMSConfig) Enabled() bool {
	return c.AccessKeyID != "" && c.AccessKeySecret != "" && c.TemplateCode != ""
}

type smsSender interface {
	SendSmsWithOptions(request *dysmsapi.SendSmsRequest, runtime *util.RuntimeOptions) (*dysmsapi.SendSmsResponse, error)
}

// SMSChannel texts newly issued codes through Aliyun SMS.
type SMSChannel struct {
	client smsSender
	cfg    SMSConfig
}

// NewSMSChannel creates an Aliyun SMS client.
func NewSMSChannel(cfg SMSConfig) (*SMSChannel, error) {
	client, err := dysmsapi.NewClient(&openapi.Config{
		AccessKeyId:     tea.String(cfg.AccessKeyID),
		AccessKeySecret: tea.String(cfg.AccessKeySecret),
		Endpoint:        tea.String("dysmsapi.aliyuncs.com"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create sms client")
	}
	return &SMSChannel{client: client, cfg: cfg}, nil
}

func (c *SMSChannel) Name() string { return "sms" }

// Send texts the code and amount to the user's phone.
func (c *SMSChannel) Send(ctx context.Context, to user.Contact, m Message) error {
	if to.Phone == "" || m.Event.Kind != reward.EventCodeIssued {
		return ErrSkip
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var params jx.Encoder
	params.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(m.Event.Code.Code) })
		e.Field("amount", func(e *jx.Encoder) { e.Str(m.Event.Label) })
	})

	resp, err := c.client.SendSmsWithOptions(&dysmsapi.SendSmsRequest{
		PhoneNumbers:  tea.String(to.Phone),
		SignName:      tea.String(c.cfg.SignName),
		TemplateCode:  tea.String(c.cfg.TemplateCode),
		TemplateParam: tea.String(string(params.Bytes())),
	}, runtimeOptions(ctx))
	if err != nil {
		return aliyunError("sms", err)
	}
	if resp == nil || resp.Body == nil || tea.StringValue(resp.Body.Code) != "OK" {
		var code, msg string
		if resp != nil && resp.Body != nil {
			code, msg = tea.StringValue(resp.Body.Code), tea.StringValue(resp.Body.Message)
		}
		return errors.Errorf("sms: rejected: %s %s", code, msg)
	}
	return nil
}

// runtimeOptions bounds the SDK's connect and read timeouts by the time left
// before the ctx deadline, since the SDK ignores ctx itself.
func runtimeOptions(ctx context.Context) *util.RuntimeOptions {
	opts := &util.RuntimeOptions{}
	deadline, ok := ctx.Deadline()
	if !ok {
		return opts
	}
	ms := max(int(time.Until(deadline).Milliseconds()), 1)
	opts.ConnectTimeout = tea.Int(ms)
	opts.ReadTimeout = tea.Int(ms)
	return opts
}

func aliyunError(service string, err error) error {
	var sdkErr *tea.SDKError
	if errors.As(err, &sdkErr) {
		return errors.Errorf("%s: %s: %s", service, tea.StringValue(sdkErr.Code), tea.StringValue(sdkErr.Message))
	}
	return errors.Wrap(err, service)
}
