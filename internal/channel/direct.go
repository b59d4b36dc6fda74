package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"waroute/internal/store"
)

// DirectConfig configures a Cloud-API channel.
type DirectConfig struct {
	BaseURL       string // default https://graph.facebook.com
	APIVersion    string // default v18.0
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration // per-send HTTP timeout, default 15s
}

func (c DirectConfig) withDefaults() DirectConfig {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = "https://graph.facebook.com"
	}
	if strings.TrimSpace(c.APIVersion) == "" {
		c.APIVersion = "v18.0"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

// Direct sends through the provider's HTTP messages endpoint.
// Success is a 2xx acknowledgement carrying a provider message id.
type Direct struct {
	cfg       DirectConfig
	client    *http.Client
	connected atomic.Bool
}

func NewDirect(cfg DirectConfig) *Direct {
	cfg = cfg.withDefaults()
	return &Direct{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (d *Direct) Kind() store.ChannelKind { return store.KindDirect }

// Connect validates the static credentials. There is no session to establish;
// a configured token is what "connected" means for the direct variant.
func (d *Direct) Connect(_ context.Context) error {
	if strings.TrimSpace(d.cfg.AccessToken) == "" || strings.TrimSpace(d.cfg.PhoneNumberID) == "" {
		return errors.New("direct channel: access token and phone number id are required")
	}
	d.connected.Store(true)
	return nil
}

func (d *Direct) Disconnect(_ context.Context) error {
	d.connected.Store(false)
	return nil
}

func (d *Direct) Connected() bool { return d.connected.Load() }

type directSendPayload struct {
	MessagingProduct string         `json:"messaging_product"`
	To               string         `json:"to"`
	Type             string         `json:"type"`
	Text             directSendText `json:"text"`
}

type directSendText struct {
	Body string `json:"body"`
}

type directSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (d *Direct) Send(ctx context.Context, address, text string) (string, error) {
	if !d.Connected() {
		return "", sendErr(SendNotConnected, errors.New("direct channel not connected"))
	}

	body, err := json.Marshal(directSendPayload{
		MessagingProduct: "whatsapp",
		To:               address,
		Type:             "text",
		Text:             directSendText{Body: text},
	})
	if err != nil {
		return "", sendErr(SendUnknown, err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", d.cfg.BaseURL, d.cfg.APIVersion, d.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", sendErr(SendUnknown, err)
	}
	req.Header.Set("Authorization", "Bearer "+d.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", sendErr(SendTimeout, err)
		}
		return "", sendErr(SendUnknown, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out directSendResponse
	_ = json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if len(out.Messages) == 0 || out.Messages[0].ID == "" {
			return "", sendErr(SendUnknown, errors.New("acknowledgement missing message id"))
		}
		return out.Messages[0].ID, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		// Address/content-level rejection; no failover will fix it.
		return "", sendErr(SendRejected, apiError(resp.StatusCode, out))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return "", sendErr(SendTimeout, apiError(resp.StatusCode, out))
	default:
		return "", sendErr(SendUnknown, apiError(resp.StatusCode, out))
	}
}

func apiError(code int, out directSendResponse) error {
	if out.Error != nil && out.Error.Message != "" {
		return fmt.Errorf("api error %d: %s", code, out.Error.Message)
	}
	return fmt.Errorf("api error %d", code)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
