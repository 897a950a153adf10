// Package events доставляет события журнала аудита подписчикам: уведомлениям,
// чату сделки и внешней шине.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/goroutine"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/metrics"
	"github.com/ignatzorin/freelance-escrow/internal/models"
)

// DefaultCursor имя курсора диспетчера по умолчанию.
const DefaultCursor = "dispatcher"

const defaultBatch = 100

// defaultGapGrace сколько ждать пропущенный seq, прежде чем считать его откатом.
const defaultGapGrace = 30 * time.Second

// Source журнал, из которого читаются события.
type Source interface {
	ListAfter(ctx context.Context, seq int64, limit int) ([]models.AuditEvent, error)
	GetCursor(ctx context.Context, name string) (int64, error)
	SaveCursor(ctx context.Context, name string, seq int64) error
}

// Sink получатель событий. Ошибка sink логируется и не останавливает доставку.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev models.AuditEvent) error
}

// Dispatcher читает события после сохранённого курсора и раздаёт их sink'ам.
// Доставка "хотя бы один раз": курсор сдвигается после попытки всех sink'ов.
//
// seq выдаётся при вставке, а видимой строка становится при коммите, поэтому
// в пачке бывают дыры от ещё не закоммиченных транзакций. Диспетчер
// останавливается перед дырой и пропускает её только через gapGrace.
type Dispatcher struct {
	source   Source
	cursor   string
	batch    int
	sinks    []Sink
	gapGrace time.Duration
	now      func() time.Time

	mu sync.Mutex
	// gapSeq первый пропущенный seq и момент, когда его заметили.
	gapSeq    int64
	gapSeenAt time.Time
}

// NewDispatcher создаёт диспетчер. Пустое имя курсора заменяется на DefaultCursor.
func NewDispatcher(source Source, cursor string, batch int, sinks ...Sink) *Dispatcher {
	if cursor == "" {
		cursor = DefaultCursor
	}
	if batch <= 0 {
		batch = defaultBatch
	}
	return &Dispatcher{
		source:   source,
		cursor:   cursor,
		batch:    batch,
		sinks:    sinks,
		gapGrace: defaultGapGrace,
		now:      time.Now,
	}
}

// SetGapGrace задаёт ожидание пропущенного seq. Неположительное значение не меняет настройку.
func (d *Dispatcher) SetGapGrace(grace time.Duration) {
	if grace <= 0 {
		return
	}
	d.mu.Lock()
	d.gapGrace = grace
	d.mu.Unlock()
}

// RunOnce доставляет одну пачку событий и возвращает их число.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seq, err := d.source.GetCursor(ctx, d.cursor)
	if err != nil {
		return 0, fmt.Errorf("events: не удалось прочитать курсор %s: %w", d.cursor, err)
	}
	batch, err := d.source.ListAfter(ctx, seq, d.batch)
	if err != nil {
		return 0, fmt.Errorf("events: не удалось прочитать события после %d: %w", seq, err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	start := seq
	delivered := 0
	for _, ev := range batch {
		if ctx.Err() != nil {
			break
		}
		if ev.Seq > seq+1 && !d.gapExpired(seq+1) {
			break
		}
		d.deliver(ctx, ev)
		seq = ev.Seq
		delivered++
	}

	if seq == start {
		return 0, nil
	}
	if err := d.source.SaveCursor(ctx, d.cursor, seq); err != nil {
		return 0, fmt.Errorf("events: не удалось сохранить курсор %s: %w", d.cursor, err)
	}
	return delivered, nil
}

// gapExpired сообщает, можно ли пропустить отсутствующий seq. Первый вызов для
// нового seq запоминает момент, когда дыра замечена.
func (d *Dispatcher) gapExpired(missing int64) bool {
	now := d.now()
	if d.gapSeq != missing {
		d.gapSeq = missing
		d.gapSeenAt = now
		return false
	}
	if now.Sub(d.gapSeenAt) < d.gapGrace {
		return false
	}
	logger.With("events").WithFields(logrus.Fields{
		"seq":    missing,
		"waited": now.Sub(d.gapSeenAt).String(),
		"grace":  d.gapGrace.String(),
		"cursor": d.cursor,
	}).Warn("пропущенный seq не появился, считаем транзакцию откатившейся")
	return true
}

// Drain доставляет события, пока журнал не будет вычитан до конца.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := d.RunOnce(ctx)
		total += n
		if err != nil || n < d.batch || ctx.Err() != nil {
			return total, err
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev models.AuditEvent) {
	log := logger.With("events").WithFields(logrus.Fields{
		"seq":  ev.Seq,
		"verb": ev.Verb,
	})
	for _, sink := range d.sinks {
		var err error
		if !goroutine.Run("events."+sink.Name(), func() { err = sink.Handle(ctx, ev) }) {
			err = errors.New("panic в обработчике")
		}
		if err != nil {
			log.WithField("sink", sink.Name()).WithError(err).Warn("событие не доставлено")
			metrics.EventDeliveries.WithLabelValues(sink.Name(), metrics.OutcomeFailed).Inc()
			continue
		}
		metrics.EventDeliveries.WithLabelValues(sink.Name(), metrics.OutcomeApplied).Inc()
	}
}

// EventName возвращает внешнее имя события: "<сущность>.<действие>",
// например escrow.released или dispute.opened.
func EventName(ev models.AuditEvent) string {
	return ev.EntityType + "." + strings.TrimPrefix(ev.Verb, ev.EntityType+"_")
}

// envelope общие поля полезной нагрузки событий.
type envelope struct {
	Parties    []uuid.UUID `json:"parties"`
	ContractID *uuid.UUID  `json:"contract_id"`
}

func decodeEnvelope(ev models.AuditEvent) (envelope, map[string]any, error) {
	var env envelope
	fields := map[string]any{}
	if len(ev.Payload) == 0 {
		return env, fields, nil
	}
	if err := json.Unmarshal(ev.Payload, &env); err != nil {
		return env, nil, fmt.Errorf("events: некорректная нагрузка события %d: %w", ev.Seq, err)
	}
	if err := json.Unmarshal(ev.Payload, &fields); err != nil {
		return env, nil, fmt.Errorf("events: некорректная нагрузка события %d: %w", ev.Seq, err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return env, fields, nil
}
