package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/models"
)

// ChatPoster публикует системное сообщение в чат контракта.
type ChatPoster interface {
	PostSystemMessage(ctx context.Context, contractID uuid.UUID, text string) error
}

// ChatSink пишет в чат контракта о заморозке и выплатах по escrow.
type ChatSink struct {
	poster ChatPoster
}

// NewChatSink создаёт sink системных сообщений.
func NewChatSink(p ChatPoster) *ChatSink {
	return &ChatSink{poster: p}
}

func (s *ChatSink) Name() string { return "chat" }

func (s *ChatSink) Handle(ctx context.Context, ev models.AuditEvent) error {
	if ev.EntityType != models.EntityEscrow {
		return nil
	}
	env, fields, err := decodeEnvelope(ev)
	if err != nil {
		return err
	}
	if env.ContractID == nil {
		return nil
	}
	text := chatText(ev.Verb, fields)
	if text == "" {
		return nil
	}
	return s.poster.PostSystemMessage(ctx, *env.ContractID, text)
}

func chatText(verb string, fields map[string]any) string {
	switch verb {
	case models.VerbEscrowFrozen:
		return "Средства по сделке заморожены до решения спора"
	case models.VerbEscrowUnfrozen:
		return "Заморозка средств по сделке снята"
	case models.VerbEscrowPartiallyReleased:
		return fmt.Sprintf("Этап оплачен: исполнителю перечислено %v", fields["payout"])
	case models.VerbEscrowReleased:
		return fmt.Sprintf("Сделка закрыта: исполнителю перечислено %v", fields["freelancer_amount"])
	case models.VerbEscrowRefunded:
		return fmt.Sprintf("Сделка закрыта: заказчику возвращено %v", fields["buyer_amount"])
	case models.VerbEscrowSplitResolved:
		return fmt.Sprintf("Сделка закрыта разделением: исполнителю %v, заказчику %v",
			fields["freelancer_amount"], fields["buyer_amount"])
	}
	return ""
}

// WebhookPoster отправляет системные сообщения в сервис чата по HTTP.
type WebhookPoster struct {
	url    string
	client *http.Client
}

// NewWebhookPoster создаёт клиента вебхука чата.
func NewWebhookPoster(url string, timeout time.Duration) *WebhookPoster {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookPoster{url: url, client: &http.Client{Timeout: timeout}}
}

func (p *WebhookPoster) PostSystemMessage(ctx context.Context, contractID uuid.UUID, text string) error {
	body, err := json.Marshal(map[string]string{
		"contract_id": contractID.String(),
		"type":        "system",
		"text":        text,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chat: некорректный запрос: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat: вебхук недоступен: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("chat: вебхук ответил %d", resp.StatusCode)
	}
	return nil
}

// LogPoster пишет системные сообщения в лог. Используется, когда вебхук чата не настроен.
type LogPoster struct{}

func (LogPoster) PostSystemMessage(_ context.Context, contractID uuid.UUID, text string) error {
	logger.With("chat").WithField("contract_id", contractID).Info(text)
	return nil
}
