// Package dispatcher runs the per-user conversation: session lifecycle, command
// handling and live alert delivery.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/defiguard/internal/chain"
	"github.com/defiguard/internal/logging"
	"github.com/defiguard/internal/models"
	"github.com/defiguard/internal/storage"
)

const historySize = 5

// Outbox delivers rendered messages to a transport address
type Outbox interface {
	Send(ctx context.Context, msg models.OutboundMessage) error
}

// ScanTrigger schedules an out-of-cycle scan of a user's portfolio. It must not block.
type ScanTrigger interface {
	Trigger(userID string)
}

// AdvisorContext is what the dispatcher knows about the asking user
type AdvisorContext struct {
	Portfolio *models.Portfolio
	Alerts    []models.AlertRecord
}

// Advisor answers free-form questions
type Advisor interface {
	Answer(ctx context.Context, userID, question string, c AdvisorContext) (string, error)
}

// Config holds the dispatcher collaborators. Trigger and Advisor are optional.
type Config struct {
	Registry   *chain.Registry
	Portfolios *storage.PortfolioRepository
	Alerts     *storage.AlertRepository
	Sessions   *storage.SessionRepository
	Outbox     Outbox
	Trigger    ScanTrigger
	Advisor    Advisor
}

// Dispatcher is safe for concurrent use; all state lives in the repositories.
type Dispatcher struct {
	registry   *chain.Registry
	portfolios *storage.PortfolioRepository
	alerts     *storage.AlertRepository
	sessions   *storage.SessionRepository
	outbox     Outbox
	trigger    ScanTrigger
	advisor    Advisor
	now        func() time.Time
}

// New creates a dispatcher
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		registry:   cfg.Registry,
		portfolios: cfg.Portfolios,
		alerts:     cfg.Alerts,
		sessions:   cfg.Sessions,
		outbox:     cfg.Outbox,
		trigger:    cfg.Trigger,
		advisor:    cfg.Advisor,
		now:        time.Now,
	}
}

// WithClock replaces the time source, for tests
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Handle processes one session event. Every text event produces exactly one reply.
// The returned error reports storage or delivery failures; user mistakes are answered, not returned.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) error {
	logger := logging.FromContext(ctx).WithField("user_id", ev.SenderID())

	switch e := ev.(type) {
	case StartSession:
		return d.startSession(ctx, e)
	case Text:
		reply, err := d.handleText(ctx, e)
		if err != nil {
			logger.WithError(err).Error("Command failed")
			reply = renderInternalError()
		}
		return d.send(ctx, e.Sender, reply)
	case EndSession:
		if err := d.sessions.End(ctx, e.Sender); err != nil {
			return fmt.Errorf("end session: %w", err)
		}
		logger.Info("Session ended")
		return nil
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
}

func (d *Dispatcher) startSession(ctx context.Context, e StartSession) error {
	err := d.sessions.Start(ctx, models.Session{UserID: e.Sender, Address: e.Sender, CreatedAt: d.now().UTC()})
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	logging.FromContext(ctx).WithField("user_id", e.Sender).Info("Session started")

	p, err := d.portfolio(ctx, e.Sender)
	if err != nil {
		return err
	}
	if p != nil {
		return d.send(ctx, e.Sender, renderWelcomeBack(p))
	}
	return d.send(ctx, e.Sender, renderOnboarding(d.registry))
}

// command returns the lower-cased verb and whether it was slash-prefixed
func command(text string) (verb string, slashed bool) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(fields) == 0 {
		return "", false
	}
	verb = fields[0]
	if strings.HasPrefix(verb, "/") {
		return strings.TrimPrefix(verb, "/"), true
	}
	return verb, false
}

func (d *Dispatcher) handleText(ctx context.Context, e Text) (string, error) {
	verb, slashed := command(e.Body)
	single := len(strings.Fields(e.Body)) == 1

	switch {
	case verb == "register":
		return d.register(ctx, e.Sender, strings.TrimPrefix(strings.TrimSpace(e.Body), "/"))
	case single && verb == "status":
		return d.status(ctx, e.Sender)
	case single && verb == "history":
		return d.history(ctx, e.Sender)
	case single && verb == "portfolio":
		p, err := d.portfolio(ctx, e.Sender)
		if err != nil || p == nil {
			return renderNoPortfolio(), err
		}
		return renderPortfolio(p), nil
	case single && verb == "chains":
		return renderChains(d.registry), nil
	case single && verb == "help":
		return renderHelp(d.registry), nil
	case slashed:
		return renderNotRecognized(e.Body), nil
	default:
		return d.ask(ctx, e), nil
	}
}

func (d *Dispatcher) portfolio(ctx context.Context, userID string) (*models.Portfolio, error) {
	p, err := d.portfolios.Get(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (d *Dispatcher) register(ctx context.Context, userID, text string) (string, error) {
	reg, err := ParseRegister(d.registry, text)
	if err != nil {
		return renderParseError(err), nil
	}

	existing, err := d.portfolio(ctx, userID)
	if err != nil {
		return "", err
	}
	wallets := []string{reg.Wallet.Hex()}
	if existing != nil {
		wallets = mergeWallets(existing.Wallets, reg.Wallet.Hex())
	}

	p := &models.Portfolio{
		UserID:       userID,
		Wallets:      wallets,
		Chains:       reg.Chains,
		RegisteredAt: d.now().UTC(),
	}
	if err := d.portfolios.Save(ctx, p); err != nil {
		return "", err
	}
	if d.trigger != nil {
		d.trigger.Trigger(userID)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id": userID,
		"wallets": len(p.Wallets),
		"chains":  strings.Join(p.Chains, ","),
	}).Info("Portfolio registered")
	return renderRegistered(p, reg.Wallet), nil
}

func mergeWallets(existing []string, added string) []string {
	out := make([]string, 0, len(existing)+1)
	for _, w := range existing {
		if strings.EqualFold(w, added) {
			continue
		}
		out = append(out, w)
	}
	return append(out, added)
}

func (d *Dispatcher) status(ctx context.Context, userID string) (string, error) {
	p, err := d.portfolio(ctx, userID)
	if err != nil || p == nil {
		return renderNoPortfolio(), err
	}
	latest, ok, err := d.alerts.Latest(ctx, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return renderStatus(nil), nil
	}
	return renderStatus(&latest), nil
}

func (d *Dispatcher) history(ctx context.Context, userID string) (string, error) {
	recs, err := d.alerts.Recent(ctx, userID, historySize)
	if err != nil {
		return "", err
	}
	return renderHistory(recs), nil
}

// ask hands free text to the advisor; any failure degrades to the command reminder
func (d *Dispatcher) ask(ctx context.Context, e Text) string {
	if d.advisor == nil {
		return renderNotRecognized(e.Body)
	}
	logger := logging.FromContext(ctx).WithField("user_id", e.Sender)

	var c AdvisorContext
	if p, err := d.portfolio(ctx, e.Sender); err == nil {
		c.Portfolio = p
	}
	if recs, err := d.alerts.Recent(ctx, e.Sender, historySize); err == nil {
		c.Alerts = recs
	}

	answer, err := d.advisor.Answer(ctx, e.Sender, strings.TrimSpace(e.Body), c)
	if err != nil || strings.TrimSpace(answer) == "" {
		if err != nil {
			logger.WithError(err).Warn("Advisor failed")
		}
		return renderNotRecognized(e.Body)
	}
	return answer
}

// DeliverAlert stores an alert-worthy report and pushes it to the user's live session, if any.
// Reports with ShouldAlert unset are ignored. The bool reports whether a live message was sent.
func (d *Dispatcher) DeliverAlert(ctx context.Context, report *models.RiskReport) (bool, error) {
	if report == nil || !report.ShouldAlert {
		return false, nil
	}
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id":    report.UserID,
		"risk_level": report.Level,
	})

	rec := models.AlertFromReport(report)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = d.now().UTC()
	}
	if err := d.alerts.Append(ctx, rec); err != nil {
		return false, fmt.Errorf("store alert: %w", err)
	}

	session, ok, err := d.sessions.Get(ctx, report.UserID)
	if err != nil {
		return false, fmt.Errorf("lookup session: %w", err)
	}
	if !ok {
		logger.Info("No active session, alert stored for later")
		return false, nil
	}
	if err := d.send(ctx, session.Address, RenderAlert(rec)); err != nil {
		return false, err
	}
	logger.Info("Alert delivered")
	return true, nil
}

// DeliverMarketAlerts pushes price and volume movement alerts to the user's live session
// as one message. They are not stored; without a session they are dropped.
func (d *Dispatcher) DeliverMarketAlerts(ctx context.Context, userID string, alerts []models.MarketAlert) (bool, error) {
	if len(alerts) == 0 {
		return false, nil
	}
	session, ok, err := d.sessions.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("lookup session: %w", err)
	}
	if !ok {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"user_id": userID,
			"alerts":  len(alerts),
		}).Debug("No active session, market alerts dropped")
		return false, nil
	}
	if err := d.send(ctx, session.Address, RenderMarketAlerts(alerts)); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Dispatcher) send(ctx context.Context, recipient, text string) error {
	msg := models.OutboundMessage{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Text:      text,
		CreatedAt: d.now().UTC(),
	}
	if err := d.outbox.Send(ctx, msg); err != nil {
		return fmt.Errorf("send to %s: %w", recipient, err)
	}
	return nil
}
