package achievement

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/alem-hub/points-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CRITERIA
// ══════════════════════════════════════════════════════════════════════════════

// CriteriaType - семейство правил автоматической выдачи.
type CriteriaType string

const (
	CriteriaCheckins       CriteriaType = "checkins"
	CriteriaLifetimePoints CriteriaType = "lifetime_points"
	CriteriaLevel          CriteriaType = "level"
)

// IsValid проверяет тип критерия.
func (t CriteriaType) IsValid() bool {
	switch t {
	case CriteriaCheckins, CriteriaLifetimePoints, CriteriaLevel:
		return true
	default:
		return false
	}
}

// MaxThreshold ограничивает порог, чтобы MinLifetimePoints не переполнялся.
// Для level граница делится на PointsPerLevel.
const MaxThreshold = 1_000_000_000

// Criteria - типизированный критерий: тип и порог.
// Все три семейства используют сравнение value >= Threshold.
type Criteria struct {
	Type      CriteriaType `json:"type"`
	Threshold int          `json:"threshold"`
}

// Validate проверяет критерий при записи.
func (c Criteria) Validate() error {
	if !c.Type.IsValid() {
		return shared.WrapError("achievement", "Validate", shared.ErrValidation,
			fmt.Sprintf("unknown criteria type %q", c.Type), shared.ErrInvalidCriteria)
	}
	if c.Threshold < 1 {
		return shared.WrapError("achievement", "Validate", shared.ErrValueOutOfRange,
			"criteria threshold must be at least 1", shared.ErrInvalidCriteria)
	}
	if limit := c.maxThreshold(); c.Threshold > limit {
		return shared.WrapError("achievement", "Validate", shared.ErrValueOutOfRange,
			fmt.Sprintf("criteria threshold must be at most %d", limit), shared.ErrInvalidCriteria)
	}
	return nil
}

func (c Criteria) maxThreshold() int {
	if c.Type == CriteriaLevel {
		return MaxThreshold / shared.PointsPerLevel
	}
	return MaxThreshold
}

// String возвращает компактную запись вида "level>=3".
func (c Criteria) String() string {
	return fmt.Sprintf("%s>=%d", c.Type, c.Threshold)
}

// MinLifetimePoints переводит критерий по lifetime/уровню в нижнюю границу
// lifetime_points. Для checkins возвращает 0.
func (c Criteria) MinLifetimePoints() int {
	switch c.Type {
	case CriteriaLifetimePoints:
		return c.Threshold
	case CriteriaLevel:
		return c.Threshold * shared.PointsPerLevel
	default:
		return 0
	}
}

// Stats - показатели студента, по которым проверяется критерий.
type Stats struct {
	Checkins       int
	LifetimePoints int
}

// Satisfied проверяет критерий на показателях студента.
func (c Criteria) Satisfied(s Stats) bool {
	switch c.Type {
	case CriteriaCheckins:
		return s.Checkins >= c.Threshold
	case CriteriaLifetimePoints:
		return s.LifetimePoints >= c.Threshold
	case CriteriaLevel:
		return shared.LevelFor(s.LifetimePoints) >= c.Threshold
	default:
		return false
	}
}

// legacyThresholdKeys - ключи старых нетипизированных payload, в порядке
// приоритета для каждого типа.
var legacyThresholdKeys = map[CriteriaType][]string{
	CriteriaCheckins:       {"threshold", "min_checkins", "min"},
	CriteriaLifetimePoints: {"threshold", "min_points", "min"},
	CriteriaLevel:          {"threshold", "min_level", "min"},
}

// ParseCriteria нормализует тип и payload (в том числе старые ключи
// threshold/min/min_points/min_level/min_checkins) в типизированный критерий.
func ParseCriteria(criteriaType string, payload map[string]any) (Criteria, error) {
	ct := CriteriaType(strings.ToLower(strings.TrimSpace(criteriaType)))
	if ct == "" {
		if raw, ok := payload["type"].(string); ok {
			ct = CriteriaType(strings.ToLower(strings.TrimSpace(raw)))
		}
	}
	c := Criteria{Type: ct}
	if !ct.IsValid() {
		return c, c.Validate()
	}

	for _, key := range legacyThresholdKeys[ct] {
		raw, ok := payload[key]
		if !ok || raw == nil {
			continue
		}
		n, err := toInt(raw)
		if err != nil {
			return c, shared.WrapError("achievement", "ParseCriteria", shared.ErrInvalidFormat,
				fmt.Sprintf("criteria key %q: %v", key, err), shared.ErrInvalidCriteria)
		}
		c.Threshold = n
		return c, c.Validate()
	}

	return c, shared.WrapError("achievement", "ParseCriteria", shared.ErrValidation,
		"criteria threshold is missing", shared.ErrInvalidCriteria)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		if math.Abs(n) > MaxThreshold {
			return 0, fmt.Errorf("out of range: %v", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
