package middleware

import (
	"sync"
	"time"
)

// commandKey — админ в конкретном чате.
type commandKey struct {
	chatID, userID int64
}

// RateLimiter ограничивает админские команды скользящим окном, отдельно
// для каждой пары чат/админ. Обычные сообщения не ограничиваются: их всегда
// должен увидеть детектор.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[commandKey][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[commandKey][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Close останавливает фоновую горутину очистки.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow отмечает команду и сообщает, укладывается ли она в лимит.
func (rl *RateLimiter) Allow(chatID, userID int64) bool {
	key := commandKey{chatID: chatID, userID: userID}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := prune(rl.requests[key], now.Add(-rl.window))
	if len(recent) >= rl.limit {
		rl.requests[key] = recent
		return false
	}
	rl.requests[key] = append(recent, now)
	return true
}

// Len — сколько пар чат/админ сейчас отслеживается.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.requests)
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(max(rl.window, time.Minute))
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := rl.now().Add(-rl.window)
			rl.evict(cutoff)
			rl.mu.Unlock()
		}
	}
}

// evict выбрасывает пары без команд новее cutoff. Вызывается под mu.
func (rl *RateLimiter) evict(cutoff time.Time) {
	for key, times := range rl.requests {
		if recent := prune(times, cutoff); len(recent) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = recent
		}
	}
}

// prune оставляет отметки новее cutoff. Отметки идут по возрастанию.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}
