// Package shared содержит типы, общие для всех доменных пакетов: ошибки,
// события, идентификаторы и value objects. Внешних зависимостей нет.
package shared

import (
	"errors"
	"fmt"
)

// ═══════════════════════════════════════════════════════════════════════════
// ВИДЫ ОШИБОК
// ═══════════════════════════════════════════════════════════════════════════

// Базовые виды ошибок. Транспорт сопоставляет их с кодами ответа через
// errors.Is, поэтому конкретные ошибки всегда несут один из этих видов.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	ErrInvalidState     = errors.New("invalid state")
	ErrAlreadyProcessed = errors.New("already processed")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Повторяемые: конфликт транзакции, недоступность, таймаут.
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrServiceUnavailable     = errors.New("service unavailable")
	ErrTimeout                = errors.New("operation timeout")

	ErrStorage     = errors.New("storage error")
	ErrRateLimited = errors.New("rate limited")
)

// Все виды, которые отдаются клиенту как ошибка валидации.
var validationKinds = []error{
	ErrValidation,
	ErrInvalidID,
	ErrInvalidInput,
	ErrEmptyValue,
	ErrNegativeValue,
	ErrValueOutOfRange,
	ErrInvalidFormat,
}

var retryableKinds = []error{
	ErrConcurrentModification,
	ErrServiceUnavailable,
	ErrTimeout,
}

// ═══════════════════════════════════════════════════════════════════════════
// DOMAIN ERROR
// ═══════════════════════════════════════════════════════════════════════════

// DomainError привязывает вид ошибки к месту, где она возникла.
// Строковое представление: "<domain>.<op>: <message>[: <cause>]".
type DomainError struct {
	Domain  string // ledger, sprint, achievement, student...
	Op      string
	Kind    error
	Message string // безопасно показывать клиенту
	Err     error  // причина, может быть nil
}

func (e *DomainError) Error() string {
	s := e.Domain + "." + e.Op + ": " + e.Message
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap отдаёт причину, а без неё вид ошибки.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is совпадает и с видом, и с причиной.
func (e *DomainError) Is(target error) bool {
	return (e.Kind != nil && errors.Is(e.Kind, target)) ||
		(e.Err != nil && errors.Is(e.Err, target))
}

// NewDomainError создаёт ошибку без причины.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError создаёт ошибку с причиной.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// ValidationError создаёт ошибку валидации с форматированным сообщением.
func ValidationError(domain, op, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, ErrValidation, fmt.Sprintf(format, args...))
}

// StorageError оборачивает сбой хранилища. Доменные ошибки проходят
// без изменений, чтобы их вид не терялся на границе репозитория.
func StorageError(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return err
	}
	return WrapError(domain, op, ErrStorage, "storage failure", err)
}

// ═══════════════════════════════════════════════════════════════════════════
// ОШИБКИ ДОМЕНОВ
// ═══════════════════════════════════════════════════════════════════════════

var (
	ErrStudentNotFound      = NewDomainError("student", "Find", ErrNotFound, "student not found")
	ErrStudentAlreadyExists = NewDomainError("student", "Create", ErrAlreadyExists, "student already exists")
	ErrInvalidStudentID     = NewDomainError("student", "Validate", ErrInvalidID, "student id is required")

	ErrEntryNotFound   = NewDomainError("ledger", "Find", ErrNotFound, "ledger entry not found")
	ErrInvalidCategory = NewDomainError("ledger", "Validate", ErrEmptyValue, "category is required")

	ErrAssignmentNotFound = NewDomainError("sprint", "Find", ErrNotFound, "skill sprint not found")
	ErrAssignmentDisabled = NewDomainError("sprint", "Complete", ErrInvalidState, "skill sprint is disabled")
	ErrInvalidDueDate     = NewDomainError("sprint", "Validate", ErrValidation, "due date must be after now")
	ErrEmptySourceLabel   = NewDomainError("sprint", "Validate", ErrEmptyValue, "source label is required")

	ErrBadgeNotFound   = NewDomainError("achievement", "Find", ErrNotFound, "badge not found")
	ErrBadgeDisabled   = NewDomainError("achievement", "Award", ErrInvalidState, "badge is disabled")
	ErrInvalidCriteria = NewDomainError("achievement", "Validate", ErrValidation, "invalid badge criteria")
)

// ═══════════════════════════════════════════════════════════════════════════
// ПРОВЕРКИ
// ═══════════════════════════════════════════════════════════════════════════

func isAny(err error, kinds []error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }
func IsAlreadyProcessed(err error) bool { return errors.Is(err, ErrAlreadyProcessed) }
func IsStorage(err error) bool { return errors.Is(err, ErrStorage) }
func IsValidation(err error) bool { return isAny(err, validationKinds) }

// IsRetryable сообщает, что операцию можно безопасно повторить целиком.
func IsRetryable(err error) bool { return isAny(err, retryableKinds) }
