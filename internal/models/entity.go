package models

import (
	"reflect"
	"strconv"
	"time"
)

// Системные поля сущности. Они задаются ядром синхронизации и не
// участвуют в пофайловом сравнении при поиске конфликтов.
const (
	FieldID        = "id"
	FieldVersion   = "version"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Entity представляет нормализованную запись приложения (заказ, товар и т.д.)
// в виде JSON-совместимой карты полей. Каждая запись идентифицируется полем "id"
// (строка или число) и несет монотонно растущие version/updatedAt, которые
// используются для сортировки по умолчанию и эвристик разрешения конфликтов.
//
// Мутация всегда порождает новое значение (Clone + изменение), поэтому
// устаревшие ссылки остаются валидными снимками.
type Entity map[string]any

// ID возвращает нормализованный строковый идентификатор записи.
// Числовые идентификаторы приводятся к строке ("42"), отсутствующий id — "".
func (e Entity) ID() string {
	switch v := e[FieldID].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// Version возвращает ревизию записи или 0, если поле отсутствует.
func (e Entity) Version() int64 {
	switch v := e[FieldVersion].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// HasVersion сообщает, несет ли запись поле ревизии.
func (e Entity) HasVersion() bool {
	_, ok := e[FieldVersion]
	return ok
}

// UpdatedAt возвращает время последнего изменения записи.
// Поддерживаются time.Time и строки в формате RFC3339; иначе нулевое время.
func (e Entity) UpdatedAt() time.Time {
	switch v := e[FieldUpdatedAt].(type) {
	case time.Time:
		return v
	case string:
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return ts
	default:
		return time.Time{}
	}
}

// Clone создает глубокую копию записи.
// Вложенные map и slice копируются рекурсивно.
func (e Entity) Clone() Entity {
	if e == nil {
		return nil
	}
	clone := make(Entity, len(e))
	for k, v := range e {
		clone[k] = cloneValue(v)
	}
	return clone
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		clone := make(map[string]any, len(value))
		for k, nested := range value {
			clone[k] = cloneValue(nested)
		}
		return clone
	case Entity:
		return map[string]any(value.Clone())
	case []any:
		clone := make([]any, len(value))
		for i, nested := range value {
			clone[i] = cloneValue(nested)
		}
		return clone
	default:
		return v
	}
}

// Merge выполняет поверхностное слияние: копия dst, поверх которой
// записаны все поля src. Входные значения не изменяются.
func Merge(dst, src Entity) Entity {
	merged := dst.Clone()
	if merged == nil {
		merged = Entity{}
	}
	for k, v := range src {
		merged[k] = cloneValue(v)
	}
	return merged
}

// ValueEqual сравнивает два значения полей по глубокому равенству значений,
// а не ссылок. Числовые типы приводятся к float64, чтобы int 3 и
// распарсенный из JSON float64(3) считались равными.
func ValueEqual(a, b any) bool {
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}

func normalizeValue(v any) any {
	switch value := v.(type) {
	case int:
		return float64(value)
	case int32:
		return float64(value)
	case int64:
		return float64(value)
	case float32:
		return float64(value)
	case Entity:
		return normalizeValue(map[string]any(value))
	case map[string]any:
		normalized := make(map[string]any, len(value))
		for k, nested := range value {
			normalized[k] = normalizeValue(nested)
		}
		return normalized
	case []any:
		normalized := make([]any, len(value))
		for i, nested := range value {
			normalized[i] = normalizeValue(nested)
		}
		return normalized
	default:
		return v
	}
}

// EntityEqual сравнивает две записи по значению всех полей.
func EntityEqual(a, b Entity) bool {
	return ValueEqual(map[string]any(a), map[string]any(b))
}

// IsEmptyValue возвращает true для nil, пустой строки, нулевого числа
// и пустых map/slice. Используется стратегией field_level, чтобы пустое
// значение не затирало заполненное.
func IsEmptyValue(v any) bool {
	switch value := v.(type) {
	case nil:
		return true
	case string:
		return value == ""
	case int:
		return value == 0
	case int64:
		return value == 0
	case float64:
		return value == 0
	case map[string]any:
		return len(value) == 0
	case Entity:
		return len(value) == 0
	case []any:
		return len(value) == 0
	default:
		return false
	}
}

// IsSystemField сообщает, относится ли поле к служебным полям ядра.
func IsSystemField(field string) bool {
	switch field {
	case FieldID, FieldVersion, FieldCreatedAt, FieldUpdatedAt:
		return true
	default:
		return false
	}
}
