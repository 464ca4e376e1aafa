package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"skipline-backend/internal/config"

	"github.com/jordan-wright/email"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// Message is a rendered notification for one channel
type Message struct {
	To      string
	Subject string
	Body    string
	HTML    string
}

// Channel delivers messages on one medium
type Channel interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// Mailer sends email over SMTP
type Mailer struct {
	cfg config.SMTPConfig
}

// NewMailer creates an SMTP mailer
func NewMailer(cfg config.SMTPConfig) *Mailer {
	return &Mailer{cfg: cfg}
}

func (m *Mailer) Name() string { return ChannelEmail }

// Send sends an HTML email with a plain-text alternative
func (m *Mailer) Send(_ context.Context, msg Message) error {
	e := email.NewEmail()
	e.From = m.cfg.From
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	e.HTML = []byte(msg.HTML)
	e.Text = []byte(msg.Body)

	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
	}
	if err := e.Send(m.cfg.Addr(), auth); err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	return nil
}

// SMSClient sends text messages through the Twilio REST API
type SMSClient struct {
	cfg    config.SMSConfig
	client *http.Client
}

// NewSMSClient creates a Twilio client
func NewSMSClient(cfg config.SMSConfig) *SMSClient {
	return &SMSClient{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

func (c *SMSClient) Name() string { return ChannelSMS }

type twilioError struct {
	Message string `json:"message"`
}

// Send posts one message to Twilio
func (c *SMSClient) Send(ctx context.Context, msg Message) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.AccountSID)

	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", c.cfg.From)
	form.Set("Body", msg.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("sms: build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var te twilioError
		if json.Unmarshal(body, &te) == nil && te.Message != "" {
			return fmt.Errorf("sms: twilio %d: %s", resp.StatusCode, te.Message)
		}
		return fmt.Errorf("sms: twilio returned %d", resp.StatusCode)
	}
	return nil
}

// Pusher sends iOS push notifications through APNs
type Pusher struct {
	client *apns2.Client
	topic  string
}

// NewPusher creates a token-authenticated APNs client
func NewPusher(cfg config.APNSConfig) (*Pusher, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}
	tok := &token.Token{AuthKey: authKey, KeyID: cfg.KeyID, TeamID: cfg.TeamID}

	client := apns2.NewTokenClient(tok)
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	return &Pusher{client: client, topic: cfg.Topic}, nil
}

func (p *Pusher) Name() string { return ChannelPush }

// Send pushes an alert to one device token
func (p *Pusher) Send(ctx context.Context, msg Message) error {
	n := &apns2.Notification{
		DeviceToken: msg.To,
		Topic:       p.topic,
		Payload:     payload.NewPayload().AlertTitle(msg.Subject).AlertBody(msg.Body).Sound("default"),
	}
	res, err := p.client.PushWithContext(ctx, n)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("push: apns %d: %s", res.StatusCode, res.Reason)
	}
	return nil
}

// Simulated accepts every message without sending it. It stands in for a
// provider that is not configured.
type Simulated struct {
	Channel string
}

func (s Simulated) Name() string { return s.Channel }

func (Simulated) Send(context.Context, Message) error { return nil }

// guarded wraps a channel in a circuit breaker
type guarded struct {
	Channel
	breaker *Breaker
}

// WithBreaker guards ch with a breaker so a failing provider is skipped
func WithBreaker(ch Channel, cfg BreakerConfig) Channel {
	return &guarded{Channel: ch, breaker: NewBreaker(cfg)}
}

func (g *guarded) Send(ctx context.Context, m Message) error {
	return g.breaker.Execute(func() error { return g.Channel.Send(ctx, m) })
}

// ChannelsFromConfig builds every delivery channel. A provider without
// configuration is simulated so that attempts are still logged as sent.
func ChannelsFromConfig(cfg *config.Config, breaker BreakerConfig) ([]Channel, error) {
	var (
		mailCh Channel = Simulated{Channel: ChannelEmail}
		smsCh  Channel = Simulated{Channel: ChannelSMS}
		pushCh Channel = Simulated{Channel: ChannelPush}
	)

	if cfg.SMTP.Enabled() {
		mailCh = WithBreaker(NewMailer(cfg.SMTP), breaker)
	}
	if cfg.SMS.Enabled() {
		smsCh = WithBreaker(NewSMSClient(cfg.SMS), breaker)
	}
	if cfg.APNS.Enabled() {
		pusher, err := NewPusher(cfg.APNS)
		if err != nil {
			return nil, err
		}
		pushCh = WithBreaker(pusher, breaker)
	}
	return []Channel{mailCh, smsCh, pushCh}, nil
}
