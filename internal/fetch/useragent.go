package fetch

import "math/rand/v2"

// defaultUserAgents is rotated across retry attempts so repeated requests for
// the same URL do not correlate on a single agent string.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

type agentPool struct {
	agents []string
}

func newAgentPool(agents []string) *agentPool {
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	return &agentPool{agents: agents}
}

func (p *agentPool) pick() string {
	return p.agents[rand.IntN(len(p.agents))]
}
