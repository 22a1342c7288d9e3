package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"

	"thetiptop/internal/event"
	"thetiptop/internal/metrics"
	"thetiptop/pkg/mailer"
	tplfs "thetiptop/templates"
)

type NotificationTemplate string

const (
	NotificationVerifyEmail  NotificationTemplate = "verify_email"
	NotificationCodeRedeemed NotificationTemplate = "code_redeemed"
)

var notificationSubjects = map[NotificationTemplate]string{
	NotificationVerifyEmail:  "Thé Tip Top : confirmez votre adresse email",
	NotificationCodeRedeemed: "Thé Tip Top : vous avez gagné !",
}

var defaultMailRetryDelays = []time.Duration{0, 5 * time.Second, 30 * time.Second}

type NotificationConfig struct {
	// PublicURL is the front-end origin used to build verification links.
	PublicURL      string
	VerifyTokenTTL time.Duration
	RetryDelays    []time.Duration
	SendTimeout    time.Duration
}

type renderedTemplate struct {
	text *template.Template
	html *htmltemplate.Template
}

// NotificationService turns bus events into emails.
type NotificationService struct {
	mailer     mailer.Mailer
	cfg        NotificationConfig
	logger     *zap.Logger
	templateMu sync.RWMutex
	templates  map[NotificationTemplate]renderedTemplate
	sleep      func(time.Duration)
}

func NewNotificationService(m mailer.Mailer, cfg NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = mailer.NewLogMailer(logger)
	}
	if cfg.RetryDelays == nil {
		cfg.RetryDelays = defaultMailRetryDelays
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.VerifyTokenTTL <= 0 {
		cfg.VerifyTokenTTL = defaultVerifyTokenTTL
	}

	return &NotificationService{
		mailer:    m,
		cfg:       cfg,
		logger:    logger,
		templates: make(map[NotificationTemplate]renderedTemplate),
		sleep:     time.Sleep,
	}
}

// Subscribe registers the mail handlers on bus.
func (s *NotificationService) Subscribe(bus *event.Bus) {
	bus.Subscribe(event.EventUserRegistered, s.onVerificationRequested)
	bus.Subscribe(event.EventVerifyResent, s.onVerificationRequested)
	bus.Subscribe(event.EventCodeRedeemed, s.onCodeRedeemed)
}

func (s *NotificationService) onVerificationRequested(payload any) {
	p, ok := payload.(event.UserRegisteredPayload)
	if !ok || p.VerificationToken == "" {
		return
	}

	vars := map[string]any{
		"FirstName": displayFirstName(p.FirstName),
		"Link":      s.verificationLink(p.VerificationToken),
		"ExpiresIn": formatTTL(s.cfg.VerifyTokenTTL),
	}
	if err := s.Send(context.Background(), p.Email, NotificationVerifyEmail, vars); err != nil {
		s.logger.Error("send verification email failed", zap.String("user_id", p.UserID.String()), zap.Error(err))
	}
}

func (s *NotificationService) onCodeRedeemed(payload any) {
	p, ok := payload.(event.CodeRedeemedPayload)
	if !ok {
		return
	}

	vars := map[string]any{
		"FirstName":  displayFirstName(p.FirstName),
		"Code":       p.Code,
		"GainName":   p.GainName,
		"GainValue":  p.GainValue,
		"RedeemedAt": p.RedeemedAt.UTC().Format("02/01/2006 15:04 MST"),
	}
	if err := s.Send(context.Background(), p.Email, NotificationCodeRedeemed, vars); err != nil {
		s.logger.Error("send win email failed", zap.String("user_id", p.UserID.String()), zap.Error(err))
	}
}

// Send renders name and delivers it to the recipient, retrying with the configured delays.
func (s *NotificationService) Send(ctx context.Context, to string, name NotificationTemplate, vars map[string]any) error {
	msg, err := s.render(to, name, vars)
	if err != nil {
		metrics.IncMail(string(name), false)
		return err
	}

	var sendErr error
	for i, delay := range s.cfg.RetryDelays {
		if i > 0 && delay > 0 {
			s.sleep(delay)
		}

		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		sendErr = s.mailer.Send(sendCtx, msg)
		cancel()
		if sendErr == nil {
			metrics.IncMail(string(name), true)
			return nil
		}
		if errors.Is(sendErr, mailer.ErrInvalidMessage) {
			break
		}
		s.logger.Warn("mail attempt failed",
			zap.String("template", string(name)),
			zap.Int("attempt", i+1),
			zap.Error(sendErr),
		)
	}

	metrics.IncMail(string(name), false)
	return sendErr
}

func (s *NotificationService) render(to string, name NotificationTemplate, vars map[string]any) (mailer.Message, error) {
	tpl, err := s.loadTemplate(name)
	if err != nil {
		return mailer.Message{}, err
	}

	textBuf := bytes.NewBuffer(nil)
	if err := tpl.text.Execute(textBuf, vars); err != nil {
		return mailer.Message{}, err
	}
	htmlBuf := bytes.NewBuffer(nil)
	if err := tpl.html.Execute(htmlBuf, vars); err != nil {
		return mailer.Message{}, err
	}

	return mailer.Message{
		To:      to,
		Subject: notificationSubjects[name],
		Text:    textBuf.String(),
		HTML:    htmlBuf.String(),
	}, nil
}

func (s *NotificationService) loadTemplate(name NotificationTemplate) (renderedTemplate, error) {
	s.templateMu.RLock()
	if tpl, ok := s.templates[name]; ok {
		s.templateMu.RUnlock()
		return tpl, nil
	}
	s.templateMu.RUnlock()

	if _, ok := notificationSubjects[name]; !ok {
		return renderedTemplate{}, fmt.Errorf("notification template not found: %s", name)
	}

	textFile := "mail/" + string(name) + ".txt.tmpl"
	rawText, err := tplfs.MailTemplateFS.ReadFile(textFile)
	if err != nil {
		return renderedTemplate{}, err
	}
	textTpl, err := template.New(textFile).Parse(string(rawText))
	if err != nil {
		return renderedTemplate{}, err
	}

	htmlFile := "mail/" + string(name) + ".html.tmpl"
	rawHTML, err := tplfs.MailTemplateFS.ReadFile(htmlFile)
	if err != nil {
		return renderedTemplate{}, err
	}
	htmlTpl, err := htmltemplate.New(htmlFile).Parse(string(rawHTML))
	if err != nil {
		return renderedTemplate{}, err
	}

	tpl := renderedTemplate{text: textTpl, html: htmlTpl}
	s.templateMu.Lock()
	s.templates[name] = tpl
	s.templateMu.Unlock()
	return tpl, nil
}

func (s *NotificationService) verificationLink(token string) string {
	base := strings.TrimRight(strings.TrimSpace(s.cfg.PublicURL), "/")
	return base + "/verify-email?token=" + url.QueryEscape(token)
}

func displayFirstName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "cher participant"
	}
	return name
}

func formatTTL(ttl time.Duration) string {
	hours := int(ttl.Hours())
	if hours >= 24 && hours%24 == 0 {
		return fmt.Sprintf("%d jours", hours/24)
	}
	if hours >= 1 {
		return fmt.Sprintf("%d heures", hours)
	}
	return fmt.Sprintf("%d minutes", int(ttl.Minutes()))
}
