package resolver

import (
	"time"

	"github.com/clientkit/syncstore/internal/models"
)

// Resolve тотально разрешает расхождение двух состояний по выбранной
// стратегии: для любой пары входов и любой стратегии возвращается
// определенное состояние, содержащее каждое поле, присутствующее хотя бы
// в одном из входов. Каждое разрешение штампует новую ревизию и updatedAt
// и добавляет запись в ограниченную историю.
//
// Неизвестная стратегия логируется и откатывается к merge_shallow:
// разрешение не имеет права упасть.
func (r *Resolver) Resolve(current, incoming models.Entity, strategy models.Strategy) models.Entity {
	detection := r.DetectConflicts(current, incoming)

	var resolved models.Entity
	switch strategy {
	case models.StrategyLastWriteWins:
		// Входящее состояние побеждает безусловно; поля, которых во
		// входящем нет, сохраняются из текущего.
		resolved = models.Merge(current, incoming)
	case models.StrategyFirstWriteWins:
		resolved = r.resolveFirstWriteWins(current, incoming, detection)
	case models.StrategyMergeShallow:
		resolved = models.Merge(current, incoming)
	case models.StrategyMergeDeep:
		resolved = models.Entity(deepMerge(current, incoming))
	case models.StrategyFieldLevel:
		resolved = r.resolveFieldLevel(current, incoming, detection)
	case models.StrategyBusinessRules:
		resolved = r.resolveBusinessRules(current, incoming, detection)
	default:
		r.logger.Warn("unknown conflict strategy, falling back to shallow merge",
			"strategy", string(strategy))
		resolved = models.Merge(current, incoming)
	}

	r.stamp(resolved, current, incoming)
	r.record(resolved.ID(), strategy, detection)

	r.logger.Debug("conflict resolved",
		"entity_id", resolved.ID(),
		"strategy", string(strategy),
		"conflicts", len(detection.Conflicts))

	return resolved
}

// resolveFirstWriteWins оставляет текущее значение для каждого
// конфликтующего поля; неконфликтующие поля входящего все равно применяются.
func (r *Resolver) resolveFirstWriteWins(current, incoming models.Entity, detection models.Detection) models.Entity {
	resolved := models.Merge(current, incoming)
	for _, conflict := range detection.Conflicts {
		if conflict.Type != models.ConflictFieldConflict {
			continue
		}
		// Поле, присутствующее только во входящем, сохраняется: победа
		// отсутствием нарушала бы тотальность результата.
		if _, inCurrent := current[conflict.Field]; inCurrent {
			resolved[conflict.Field] = current[conflict.Field]
		}
	}
	return resolved
}

// resolveFieldLevel выбирает для каждого конфликтующего поля значение
// стороны с большим вычисленным приоритетом: базовый приоритет поля плюс
// бонус за непустое значение. При равенстве побеждает входящее.
func (r *Resolver) resolveFieldLevel(current, incoming models.Entity, detection models.Detection) models.Entity {
	resolved := models.Merge(current, incoming)
	for _, conflict := range detection.Conflicts {
		if conflict.Type != models.ConflictFieldConflict {
			continue
		}
		base := r.fieldPriority(conflict.Field)
		currentScore := base
		incomingScore := base
		if !models.IsEmptyValue(conflict.CurrentValue) {
			currentScore += nonEmptyBonus
		}
		if !models.IsEmptyValue(conflict.IncomingValue) {
			incomingScore += nonEmptyBonus
		}
		if currentScore > incomingScore {
			resolved[conflict.Field] = conflict.CurrentValue
		} else {
			resolved[conflict.Field] = conflict.IncomingValue
		}
	}
	return resolved
}

// resolveBusinessRules делегирует конфликтующие поля настроенным
// FieldResolver'ам; поля без резолвера остаются на поверхностном слиянии.
func (r *Resolver) resolveBusinessRules(current, incoming models.Entity, detection models.Detection) models.Entity {
	resolved := models.Merge(current, incoming)
	if len(r.cfg.FieldResolvers) == 0 {
		return resolved
	}
	ctx := RuleContext{
		Current:  current,
		Incoming: incoming,
		Now:      r.cfg.Now(),
	}
	seen := make(map[string]struct{}, len(detection.Conflicts))
	for _, conflict := range detection.Conflicts {
		if conflict.Field == "" || models.IsSystemField(conflict.Field) {
			continue
		}
		if _, done := seen[conflict.Field]; done {
			continue
		}
		seen[conflict.Field] = struct{}{}
		fieldResolver, ok := r.cfg.FieldResolvers[conflict.Field]
		if !ok {
			continue
		}
		ctx.Field = conflict.Field
		resolved[conflict.Field] = fieldResolver(current[conflict.Field], incoming[conflict.Field], ctx)
	}
	return resolved
}

// deepMerge рекурсивно сливает вложенные map; на пересекающихся примитивах
// и срезах побеждает входящее значение.
func deepMerge(current, incoming map[string]any) map[string]any {
	merged := make(map[string]any, len(current)+len(incoming))
	for k, v := range current {
		merged[k] = v
	}
	for k, incomingValue := range incoming {
		currentValue, exists := merged[k]
		if !exists {
			merged[k] = incomingValue
			continue
		}
		currentMap, currentIsMap := asMap(currentValue)
		incomingMap, incomingIsMap := asMap(incomingValue)
		if currentIsMap && incomingIsMap {
			merged[k] = deepMerge(currentMap, incomingMap)
			continue
		}
		merged[k] = incomingValue
	}
	return merged
}

func asMap(v any) (map[string]any, bool) {
	switch value := v.(type) {
	case map[string]any:
		return value, true
	case models.Entity:
		return map[string]any(value), true
	default:
		return nil, false
	}
}

// stamp штампует результат новой ревизией и временем разрешения.
func (r *Resolver) stamp(resolved, current, incoming models.Entity) {
	version := current.Version()
	if incoming.Version() > version {
		version = incoming.Version()
	}
	resolved[models.FieldVersion] = version + 1
	resolved[models.FieldUpdatedAt] = r.cfg.Now().UTC().Format(time.RFC3339Nano)
}
