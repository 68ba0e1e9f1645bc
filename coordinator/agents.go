package coordinator

import (
	"sync"

	"github.com/absmach/federate/client"
)

// AgentPool resolves the agent that trains on behalf of a registered client.
// Agents added explicitly run in process; every other client is reached via
// the remote factory.
type AgentPool struct {
	mu     sync.RWMutex
	agents map[string]client.Agent
	remote func(id string) client.Agent
}

func NewAgentPool(remote func(id string) client.Agent) *AgentPool {
	return &AgentPool{
		agents: make(map[string]client.Agent),
		remote: remote,
	}
}

func (p *AgentPool) Add(a client.Agent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.agents[a.ID()] = a
}

func (p *AgentPool) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.agents, id)
}

// Agent returns nil when the client is unknown and no remote factory is set.
func (p *AgentPool) Agent(id string) client.Agent {
	p.mu.RLock()
	a, ok := p.agents[id]
	p.mu.RUnlock()
	if ok {
		return a
	}
	if p.remote == nil {
		return nil
	}

	return p.remote(id)
}
