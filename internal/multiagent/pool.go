package multiagent

import (
	"container/list"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/solsticehq/solstice/internal/agent"
)

// MaxCache bounds the number of live agent instances across all
// (name, sender) pairs.
const MaxCache = 200

// Factory builds a fresh agent from a resolved per-agent config. The
// composition root supplies it so the pool stays free of provider and
// tool wiring.
type Factory func(cfg AgentConfig) (*agent.Agent, error)

type poolEntry struct {
	key   string
	agent *agent.Agent
}

// Pool owns agent instances keyed by (agent_name, sender_id). Each
// sender gets an isolated instance with its own history; least recently
// used instances are evicted past MaxCache.
type Pool struct {
	mu      sync.Mutex
	configs map[string]AgentConfig
	factory Factory
	cache   map[string]*list.Element
	order   *list.List // front = most recently used
	max     int
	log     *slog.Logger
}

// NewPool builds a pool over the named configs.
func NewPool(configs map[string]AgentConfig, factory Factory) *Pool {
	return &Pool{
		configs: configs,
		factory: factory,
		cache:   map[string]*list.Element{},
		order:   list.New(),
		max:     MaxCache,
		log:     slog.Default().With("component", "pool"),
	}
}

// Get returns the instance for (name, sender), creating it on first use.
// An unconfigured name falls back to "default" with a logged warning; an
// empty sender (CLI, single-user) collapses the key to the name alone.
func (p *Pool) Get(name, senderID string) (*agent.Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg, ok := p.configs[name]
	if !ok {
		p.log.Warn("agent not configured, falling back to default", "agent", name)
		name = "default"
		cfg, ok = p.configs[name]
		if !ok {
			return nil, errors.New(`no "default" agent configured`)
		}
	}

	key := name
	if senderID != "" {
		key = name + ":" + senderID
	}
	if el, ok := p.cache[key]; ok {
		p.order.MoveToFront(el)
		return el.Value.(*poolEntry).agent, nil
	}

	instance, err := p.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create agent %q: %w", name, err)
	}
	p.cache[key] = p.order.PushFront(&poolEntry{key: key, agent: instance})
	p.evict()
	p.log.Debug("created agent", "agent", name, "sender", senderID)
	return instance, nil
}

func (p *Pool) evict() {
	for p.order.Len() > p.max {
		oldest := p.order.Back()
		if oldest == nil {
			return
		}
		entry := oldest.Value.(*poolEntry)
		p.order.Remove(oldest)
		delete(p.cache, entry.key)
		p.log.Info("evicted agent", "key", entry.key)
	}
}

// Names lists the configured agent names, sorted.
func (p *Pool) Names() []string {
	names := make([]string, 0, len(p.configs))
	for name := range p.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config returns the config for a named agent.
func (p *Pool) Config(name string) (AgentConfig, bool) {
	cfg, ok := p.configs[name]
	return cfg, ok
}

// ActiveCount reports the number of cached instances.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}
