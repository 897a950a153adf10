// Package validation проверяет пользовательский текст до записи в журнал.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Константы валидации
const (
	MaxDisputeReasonLength  = 100
	MaxMilestoneTitleLength = 200
	MaxFeedbackLength       = 2000
	MaxMessageLength        = 5000
	MaxEvidenceTextLength   = 10000
	MaxDestinationLength    = 200
	MaxRemarksLength        = 500
	MinDestinationLength    = 4
	currencyCodeLength      = 3
)

var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// RequiredText обрезает пробелы и проверяет, что текст не пуст и не длиннее max.
func RequiredText(fieldName, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%s не может быть пустым", fieldName)
	}
	if err := ValidateLength(fieldName, value, 0, max); err != nil {
		return "", err
	}
	return value, nil
}

// OptionalText как RequiredText, но пустое значение допустимо.
func OptionalText(fieldName, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	if err := ValidateLength(fieldName, value, 0, max); err != nil {
		return "", err
	}
	return value, nil
}

// DisputeReason проверяет причину спора.
func DisputeReason(reason string) (string, error) {
	return RequiredText("причина спора", reason, MaxDisputeReasonLength)
}

// MilestoneTitle проверяет название этапа.
func MilestoneTitle(title string) (string, error) {
	return RequiredText("название этапа", title, MaxMilestoneTitleLength)
}

// Feedback проверяет комментарий заказчика при отклонении этапа.
func Feedback(feedback string) (string, error) {
	return RequiredText("причина отклонения", feedback, MaxFeedbackLength)
}

// Message проверяет ответ стороны в споре.
func Message(message string) (string, error) {
	return RequiredText("ответ", message, MaxMessageLength)
}

// EvidenceText проверяет текстовое доказательство.
func EvidenceText(text string) (string, error) {
	return RequiredText("текст доказательства", text, MaxEvidenceTextLength)
}

// Destination проверяет реквизиты для вывода средств.
func Destination(destination string) (string, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return "", fmt.Errorf("укажите реквизиты для вывода")
	}
	if err := ValidateLength("реквизиты", destination, MinDestinationLength, MaxDestinationLength); err != nil {
		return "", err
	}
	return destination, nil
}

// CurrencyCode нормализует и проверяет трёхбуквенный код валюты.
func CurrencyCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != currencyCodeLength || !currencyRegex.MatchString(code) {
		return "", fmt.Errorf("некорректный код валюты %q", code)
	}
	return code, nil
}
