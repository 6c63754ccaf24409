package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Redriver re-dispatches work whose last attempt failed.
type Redriver interface {
	RedriveFailed(ctx context.Context) (int, error)
}

// Manager manages the job queue and its periodic background tasks
type Manager struct {
	queue         *Queue
	redriver      Redriver
	redriveEvery  time.Duration
	redriveTicker *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

// NewManager creates a manager for queue. A nil redriver disables redrives.
func NewManager(queue *Queue, redriver Redriver, redriveEvery time.Duration) *Manager {
	if redriveEvery <= 0 {
		redriveEvery = 5 * time.Minute
	}
	return &Manager{
		queue:        queue,
		redriver:     redriver,
		redriveEvery: redriveEvery,
		stopCh:       make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.redriver != nil {
		m.redriveTicker = time.NewTicker(m.redriveEvery)
		m.wg.Add(1)
		go m.redriveWorker(m.redriveTicker, m.stopCh)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.redriveTicker != nil {
		m.redriveTicker.Stop()
	}

	close(m.stopCh)
	m.running = false

	m.wg.Wait()
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// redriveWorker periodically re-enqueues failed payment events
func (m *Manager) redriveWorker(ticker *time.Ticker, stopCh <-chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started redrive worker (interval: %s)", m.redriveEvery)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Redrive worker stopping")
			return
		case <-ticker.C:
			m.RunRedriveOnce(context.Background())
		}
	}
}

// RunRedriveOnce exposes a manual trigger for a single redrive pass.
func (m *Manager) RunRedriveOnce(ctx context.Context) int {
	if m.redriver == nil {
		return 0
	}
	n, err := m.redriver.RedriveFailed(ctx)
	if err != nil {
		log.Errorf("[JobQueue Manager] Redrive error: %v", err)
	}
	if n > 0 {
		log.Infof("[JobQueue Manager] Redrove %d failed events", n)
	}
	return n
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
