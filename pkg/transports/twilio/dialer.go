package twilio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harunnryd/dineline/pkg/errorsx"
	"github.com/harunnryd/dineline/pkg/transports"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

type callUpdater interface {
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

func restClient(cfg Config) *twilio.RestClient {
	return twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
}

// Dialer provides outbound call creation via the Twilio REST API. Calls
// report their progress to the status webhook.
type Dialer struct {
	cfg    Config
	client callCreator
}

func NewDialer(cfg Config) *Dialer {
	return &Dialer{cfg: cfg.withDefaults()}
}

func (d *Dialer) Dial(ctx context.Context, to, from, url string) (string, error) {
	return d.DialWithOptions(ctx, to, from, url, transports.DialOptions{})
}

func (d *Dialer) DialWithOptions(ctx context.Context, to, from, url string, opts transports.DialOptions) (string, error) {
	_ = ctx
	if from == "" {
		from = d.cfg.FromNumber
	}
	if to == "" || from == "" {
		return "", errors.New("to/from required")
	}
	if d.cfg.AccountSID == "" || d.cfg.AuthToken == "" {
		return "", errors.New("missing twilio credentials")
	}
	if url == "" {
		url = webhookURL(d.cfg, d.cfg.path("incoming"))
	}
	status := opts.StatusCallback
	if status == "" {
		status = webhookURL(d.cfg, d.cfg.path("status"))
	}
	client := d.client
	if client == nil {
		client = restClient(d.cfg).Api
	}
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(url)
	params.SetStatusCallback(status)
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	if strings.TrimSpace(opts.SendDigits) != "" {
		params.SetSendDigits(opts.SendDigits)
	}
	resp, err := client.CreateCall(params)
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Sid == nil {
		return "", fmt.Errorf("missing call sid")
	}
	return *resp.Sid, nil
}

// CallController ends, redirects or sends digits on live calls through
// UpdateCall.
type CallController struct {
	cfg    Config
	client callUpdater
}

func NewCallController(cfg Config) *CallController {
	return &CallController{cfg: cfg.withDefaults()}
}

func (c *CallController) Hangup(ctx context.Context, callSID string) error {
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	return c.update(ctx, callSID, params)
}

// Redirect points a live call at another webhook. A path is resolved
// against the public URL.
func (c *CallController) Redirect(ctx context.Context, callSID, url string) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("redirect url required")
	}
	if strings.HasPrefix(url, "/") {
		url = webhookURL(c.cfg, url)
	}
	params := &api.UpdateCallParams{}
	params.SetUrl(url)
	params.SetMethod("POST")
	return c.update(ctx, callSID, params)
}

func (c *CallController) SendDTMF(ctx context.Context, callSID, digits string) error {
	if strings.TrimSpace(digits) == "" {
		return errors.New("digits required")
	}
	params := &api.UpdateCallParams{}
	params.SetTwiml(buildDTMFTwiml(digits))
	return c.update(ctx, callSID, params)
}

func (c *CallController) update(ctx context.Context, callSID string, params *api.UpdateCallParams) error {
	_ = ctx
	if strings.TrimSpace(callSID) == "" {
		return errors.New("call sid required")
	}
	if c.cfg.AccountSID == "" || c.cfg.AuthToken == "" {
		return errors.New("missing twilio credentials")
	}
	client := c.client
	if client == nil {
		client = restClient(c.cfg).Api
	}
	if _, err := client.UpdateCall(callSID, params); err != nil {
		return errorsx.Wrap(fmt.Errorf("update call %s: %w", callSID, err), errorsx.ReasonTelephonyUpdate)
	}
	return nil
}

var (
	_ transports.OutboundDialerWithOptions = (*Dialer)(nil)
	_ transports.CallController            = (*CallController)(nil)
	_ transports.Transport                 = (*Transport)(nil)
	_ transports.ReadyReporter             = (*Transport)(nil)
)
