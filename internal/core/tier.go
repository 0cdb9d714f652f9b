package core

type CPUKind string

const (
	CPUShared      CPUKind = "shared"
	CPUPerformance CPUKind = "performance"
)

// ResourceTier is a named sizing profile. MaxAgents is the tier's
// agent-concurrency budget, sized at roughly 1-2GB of memory per agent.
type ResourceTier struct {
	Name      string  `json:"name"`
	CPUCores  int     `json:"cpu_cores"`
	MemoryMB  int     `json:"memory_mb"`
	MaxAgents int     `json:"max_agents"`
	CPUKind   CPUKind `json:"cpu_kind"`
}

const DefaultTier = "small"

// ResourceTiers is the immutable sizing catalog, ascending by MaxAgents.
var ResourceTiers = []ResourceTier{
	{Name: "small", CPUCores: 2, MemoryMB: 2048, MaxAgents: 2, CPUKind: CPUShared},
	{Name: "medium", CPUCores: 2, MemoryMB: 4096, MaxAgents: 5, CPUKind: CPUShared},
	{Name: "large", CPUCores: 4, MemoryMB: 8192, MaxAgents: 10, CPUKind: CPUPerformance},
	{Name: "xlarge", CPUCores: 8, MemoryMB: 16384, MaxAgents: 20, CPUKind: CPUPerformance},
}

// TierByName looks up a tier in the catalog.
func TierByName(name string) (ResourceTier, bool) {
	for _, t := range ResourceTiers {
		if t.Name == name {
			return t, true
		}
	}
	return ResourceTier{}, false
}

// RecommendTier returns the smallest tier whose agent budget covers
// agentCount. When no tier suffices it returns the largest tier;
// oversubscription is the caller's problem, not a hard error.
func RecommendTier(agentCount int) ResourceTier {
	for _, t := range ResourceTiers {
		if t.MaxAgents >= agentCount {
			return t
		}
	}
	return ResourceTiers[len(ResourceTiers)-1]
}

// LargerThan compares tiers by memory.
func (t ResourceTier) LargerThan(o ResourceTier) bool {
	return t.MemoryMB > o.MemoryMB
}
