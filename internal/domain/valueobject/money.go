package valueobject

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// MoneyScale число знаков после запятой для всех денежных сумм.
const MoneyScale = 2

// Round округляет сумму до копеек по правилу half-up (половина от нуля).
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// ValidateAmount проверяет, что сумма положительна и не содержит долей копейки.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}
	if !amount.Equal(Round(amount)) {
		return apperror.New(apperror.ErrCodeValidation, "сумма не может содержать больше двух знаков после запятой")
	}
	return nil
}

// ParseAmount разбирает сумму из строки и валидирует её.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("некорректная сумма %q", raw))
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateRatio проверяет долю фрилансера при разделе средств.
func ValidateRatio(r decimal.Decimal) error {
	if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1)) {
		return apperror.New(apperror.ErrCodeValidation, "доля должна быть в диапазоне от 0 до 1")
	}
	return nil
}

// Share возвращает округлённую долю part/whole от value.
func Share(value, part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return Round(value.Mul(part).Div(whole))
}
