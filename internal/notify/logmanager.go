package notify

import (
	"log/slog"
	"sort"
	"sync"
)

// LogManager is a Manager for headless hosts. It keeps the set of visible
// notifications and logs every post and cancel.
type LogManager struct {
	mu      sync.Mutex
	visible map[int]*Notification
	posted  int
	logger  *slog.Logger
}

// NewLogManager creates an empty LogManager.
func NewLogManager(logger *slog.Logger) *LogManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogManager{
		visible: make(map[int]*Notification),
		logger:  logger.With("component", "notification-manager"),
	}
}

func (m *LogManager) Cancel(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.visible[id]; ok {
		delete(m.visible, id)
		m.logger.Info("notification cancelled", "id", id)
	}
}

func (m *LogManager) Notify(id int, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visible[id] = n
	m.posted++
	m.logger.Info("notification posted", "id", id, "title", n.Title, "body", n.Body)
	return nil
}

// Visible returns the ids of the notifications currently shown.
func (m *LogManager) Visible() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.visible))
	for id := range m.visible {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Posted returns the number of Notify calls.
func (m *LogManager) Posted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posted
}
