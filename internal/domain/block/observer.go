package block

// Observer receives the latest block list after every change. Only the
// newest snapshot is kept, so a slow reader skips intermediate states and
// never holds up the manager.
type Observer struct {
	ch chan []Block
	m  *Manager
}

// Observe registers an observer primed with the current block list. The
// channel is closed by Close on either the observer or the manager.
func (m *Manager) Observe() *Observer {
	o := &Observer{ch: make(chan []Block, 1), m: m}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		close(o.ch)
		return o
	}
	m.observers[o] = struct{}{}
	o.ch <- m.listLocked()
	return o
}

// C returns the snapshot channel
func (o *Observer) C() <-chan []Block {
	return o.ch
}

// Close unregisters the observer
func (o *Observer) Close() {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()

	if _, ok := o.m.observers[o]; ok {
		delete(o.m.observers, o)
		close(o.ch)
	}
}

// offer replaces any unread snapshot. Callers hold the manager lock, so
// there is a single sender.
func (o *Observer) offer(blocks []Block) {
	select {
	case <-o.ch:
	default:
	}
	o.ch <- blocks
}

func (m *Manager) notifyLocked() {
	if len(m.observers) == 0 {
		return
	}
	blocks := m.listLocked()
	for o := range m.observers {
		o.offer(blocks)
	}
}
