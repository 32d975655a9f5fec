package avoidance

import (
	"sync"
)

// Bank 按 droneID 保存各机避障状态
type Bank struct {
	cfg    Config
	mu     sync.Mutex
	states map[string]State
}

// NewBank 创建状态表
func NewBank(cfg Config) *Bank {
	return &Bank{cfg: cfg, states: make(map[string]State)}
}

// Step 读取该机状态，执行一步并写回
func (b *Bank) Step(droneID string, in Input) Output {
	b.mu.Lock()
	s, ok := b.states[droneID]
	b.mu.Unlock()
	if !ok {
		s = NewState()
	}

	next, out := Step(b.cfg, s, in)

	b.mu.Lock()
	b.states[droneID] = next
	b.mu.Unlock()
	return out
}

// State 返回该机当前状态
func (b *Bank) State(droneID string) (State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.states[droneID]
	return s, ok
}

// Reset 清除该机状态
func (b *Bank) Reset(droneID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, droneID)
}
