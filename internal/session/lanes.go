package session

import (
	"sync"
)

// Lanes выполняет задачи одного ключа строго по очереди, задачи разных
// ключей - параллельно. Горутина ключа живёт, пока у него есть задачи.
type Lanes struct {
	mu     sync.Mutex
	queues map[Key][]func()
	wg     sync.WaitGroup
	closed bool
}

// NewLanes создает исполнитель.
func NewLanes() *Lanes {
	return &Lanes{queues: make(map[Key][]func())}
}

// Submit ставит задачу в очередь ключа. После Close задачи не принимаются.
func (l *Lanes) Submit(key Key, task func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	q, running := l.queues[key]
	l.queues[key] = append(q, task)
	if !running {
		l.wg.Add(1)
		go l.run(key)
	}
	return true
}

func (l *Lanes) run(key Key) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		q := l.queues[key]
		if len(q) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		task := q[0]
		l.queues[key] = q[1:]
		l.mu.Unlock()

		task()
	}
}

// Active возвращает число ключей, у которых есть задачи.
func (l *Lanes) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}

// Close перестаёт принимать задачи и ждёт завершения уже поставленных.
func (l *Lanes) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
}
