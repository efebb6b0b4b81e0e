package registry

// Snapshot is the engine-facing shape of all role mappings:
// application -> environment -> AD group -> role.
type Snapshot map[string]map[string]map[string]string

// BuildSnapshot folds a flat mapping list into the nested document pushed to
// the policy engine. Applications without mappings are absent; the engine
// treats missing keys as "no role".
func BuildSnapshot(mappings []RoleMapping) Snapshot {
	snap := make(Snapshot)
	for _, m := range mappings {
		envs, ok := snap[m.ApplicationID]
		if !ok {
			envs = make(map[string]map[string]string)
			snap[m.ApplicationID] = envs
		}
		groups, ok := envs[m.Environment]
		if !ok {
			groups = make(map[string]string)
			envs[m.Environment] = groups
		}
		groups[m.ADGroup] = string(m.Role)
	}
	return snap
}
