package service

import (
	"context"
	"sync"
	"time"
)

// periodic — фоновая горутина с тикером. Stop отменяет будущие запуски
// и дожидается завершения текущего.
type periodic struct {
	interval  time.Duration
	immediate bool // первый запуск сразу после старта

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// start запускает fn в фоне. Повторный вызов без stop игнорируется.
func (p *periodic) start(ctx context.Context, fn func(ctx context.Context)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)

	// Отмена останавливает только будущие запуски: текущий доводится до конца.
	jobCtx := context.WithoutCancel(runCtx)

	go func() {
		defer p.wg.Done()

		if p.immediate {
			fn(jobCtx)
		}

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				fn(jobCtx)
			}
		}
	}()
	return true
}

// stop останавливает цикл и ждёт завершения текущего запуска.
func (p *periodic) stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}
