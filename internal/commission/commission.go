// Package commission вычисляет комиссию платформы с суммы escrow.
// Результат всегда округляется half-up до двух знаков и фиксируется при создании удержания.
package commission

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

var hundred = decimal.NewFromInt(100)

// Policy вычисляет комиссию для суммы.
type Policy interface {
	Commission(amount decimal.Decimal) decimal.Decimal
}

// FlatPercent фиксированный процент от суммы.
type FlatPercent struct {
	Percent decimal.Decimal
}

func NewFlatPercent(percent decimal.Decimal) FlatPercent {
	return FlatPercent{Percent: percent}
}

func (p FlatPercent) Commission(amount decimal.Decimal) decimal.Decimal {
	return valueobject.Round(amount.Mul(p.Percent).Div(hundred))
}

// Tier ступень шкалы: процент применяется к суммам не больше UpTo.
// Пустой UpTo означает верхнюю ступень без ограничения.
type Tier struct {
	UpTo    *decimal.Decimal
	Percent decimal.Decimal
}

// Tiered ступенчатая шкала. Процент выбранной ступени применяется ко всей сумме.
type Tiered struct {
	tiers []Tier
}

func (p *Tiered) Commission(amount decimal.Decimal) decimal.Decimal {
	for _, t := range p.tiers {
		if t.UpTo == nil || amount.LessThanOrEqual(*t.UpTo) {
			return valueobject.Round(amount.Mul(t.Percent).Div(hundred))
		}
	}
	return decimal.Zero
}

type scheduleFile struct {
	Tiers []struct {
		UpTo    string `yaml:"up_to"`
		Percent string `yaml:"percent"`
	} `yaml:"tiers"`
}

// ParseSchedule разбирает YAML шкалу комиссий.
func ParseSchedule(data []byte) (*Tiered, error) {
	var raw scheduleFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("commission: разбор шкалы: %w", err)
	}
	if len(raw.Tiers) == 0 {
		return nil, fmt.Errorf("commission: шкала не содержит ступеней")
	}

	tiers := make([]Tier, 0, len(raw.Tiers))
	open := 0
	for i, rt := range raw.Tiers {
		percent, err := decimal.NewFromString(rt.Percent)
		if err != nil || percent.IsNegative() || percent.GreaterThanOrEqual(hundred) {
			return nil, fmt.Errorf("commission: ступень %d: некорректный процент %q", i, rt.Percent)
		}
		tier := Tier{Percent: percent}
		if rt.UpTo != "" {
			upTo, err := decimal.NewFromString(rt.UpTo)
			if err != nil || !upTo.IsPositive() {
				return nil, fmt.Errorf("commission: ступень %d: некорректная граница %q", i, rt.UpTo)
			}
			tier.UpTo = &upTo
		} else {
			open++
		}
		tiers = append(tiers, tier)
	}
	if open != 1 {
		return nil, fmt.Errorf("commission: нужна ровно одна ступень без up_to")
	}

	sort.SliceStable(tiers, func(i, j int) bool {
		if tiers[i].UpTo == nil {
			return false
		}
		if tiers[j].UpTo == nil {
			return true
		}
		return tiers[i].UpTo.LessThan(*tiers[j].UpTo)
	})
	return &Tiered{tiers: tiers}, nil
}

// LoadSchedule читает шкалу комиссий из файла.
func LoadSchedule(path string) (*Tiered, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("commission: чтение %s: %w", path, err)
	}
	return ParseSchedule(data)
}

// FromConfig выбирает политику: шкала из файла, если он задан, иначе фиксированный процент.
func FromConfig(percent decimal.Decimal, scheduleFile string) (Policy, error) {
	if scheduleFile == "" {
		return NewFlatPercent(percent), nil
	}
	return LoadSchedule(scheduleFile)
}
