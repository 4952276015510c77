package resolver

import "github.com/clientkit/syncstore/internal/models"

// Stats — агрегированная статистика разрешений для диагностики.
type Stats struct {
	ByStrategy map[models.Strategy]int     `json:"byStrategy"`
	ByType     map[models.ConflictType]int `json:"byType"`
	Total      int                         `json:"total"`
}

func (r *Resolver) record(entityID string, strategy models.Strategy, detection models.Detection) {
	types := make([]models.ConflictType, 0, len(detection.Conflicts))
	for _, conflict := range detection.Conflicts {
		types = append(types, conflict.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history, models.ResolutionRecord{
		ResolvedAt: r.cfg.Now(),
		EntityID:   entityID,
		Strategy:   strategy,
		Conflicts:  len(detection.Conflicts),
		Types:      types,
	})
	// История ограничена: старые записи вытесняются
	if len(r.history) > r.cfg.HistoryLimit {
		r.history = r.history[len(r.history)-r.cfg.HistoryLimit:]
	}
}

// History возвращает копию истории разрешений.
func (r *Resolver) History() []models.ResolutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := make([]models.ResolutionRecord, len(r.history))
	copy(history, r.history)
	return history
}

// StatsSnapshot агрегирует текущую историю.
func (r *Resolver) StatsSnapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		Total:      len(r.history),
		ByStrategy: make(map[models.Strategy]int),
		ByType:     make(map[models.ConflictType]int),
	}
	for _, rec := range r.history {
		stats.ByStrategy[rec.Strategy]++
		for _, ct := range rec.Types {
			stats.ByType[ct]++
		}
	}
	return stats
}
