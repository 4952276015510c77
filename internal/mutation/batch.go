package mutation

import (
	"context"
	"sync"
)

const defaultConcurrency = 4

// BatchItem — одна мутация пакета.
type BatchItem struct {
	Request Request
	Options Options
}

// BatchOptions настраивают исполнение пакета.
type BatchOptions struct {
	// Concurrency ограничивает число одновременных мутаций
	// в параллельном режиме.
	Concurrency int
	// Sequential выполняет мутации строго по порядку.
	Sequential bool
	// StopOnError прерывает пакет после первого отказа. В параллельном
	// режиме уже запущенные мутации дорабатывают, остальные отменяются.
	StopOnError bool
}

// BatchSummary — итог пакета. Results идут в порядке исходных элементов;
// позиции отмененных мутаций остаются nil.
type BatchSummary struct {
	Results   []*Result `json:"results"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
}

// ExecuteBatch выполняет пакет мутаций последовательно или параллельно.
func (e *Executor) ExecuteBatch(ctx context.Context, items []BatchItem, opts BatchOptions) (*BatchSummary, error) {
	if opts.Sequential {
		return e.executeSequential(ctx, items, opts)
	}
	return e.executeConcurrent(ctx, items, opts)
}

func (e *Executor) executeSequential(ctx context.Context, items []BatchItem, opts BatchOptions) (*BatchSummary, error) {
	summary := &BatchSummary{Results: make([]*Result, len(items))}

	for i, item := range items {
		result, err := e.Execute(ctx, item.Request, item.Options)
		if err != nil {
			return summary, err
		}

		summary.Results[i] = result
		if result.Success {
			summary.Succeeded++
			continue
		}

		summary.Failed++
		if opts.StopOnError {
			break
		}
	}

	return summary, nil
}

func (e *Executor) executeConcurrent(ctx context.Context, items []BatchItem, opts BatchOptions) (*BatchSummary, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	summary := &BatchSummary{Results: make([]*Result, len(items))}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, concurrency)
	)

	for i, item := range items {
		if batchCtx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item BatchItem) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := e.Execute(batchCtx, item.Request, item.Options)
			if err != nil {
				result = &Result{Success: false, Error: err.Error()}
			}

			mu.Lock()
			summary.Results[i] = result
			if result.Success {
				summary.Succeeded++
			} else {
				summary.Failed++
				if opts.StopOnError {
					cancel()
				}
			}
			mu.Unlock()
		}(i, item)
	}

	wg.Wait()
	return summary, nil
}
