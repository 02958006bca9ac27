package worker

// VersionManager 持有当前一代的预缓存与运行时缓存名称，并判定激活时哪些缓存已过期。
type VersionManager struct {
	version  string
	precache string
	runtime  string
}

// NewVersionManager builds the manager for cfg's generation.
func NewVersionManager(cfg Config) VersionManager {
	return VersionManager{
		version:  cfg.Version,
		precache: cfg.PrecacheName,
		runtime:  cfg.RuntimeName,
	}
}

func (v VersionManager) Version() string { return v.version }
func (v VersionManager) PrecacheName() string { return v.precache }
func (v VersionManager) RuntimeName() string { return v.runtime }

// Current 返回当前一代保留的缓存名称。
func (v VersionManager) Current() []string {
	return []string{v.precache, v.runtime}
}

// IsCurrent reports whether name survives activation.
func (v VersionManager) IsCurrent(name string) bool {
	return name == v.precache || name == v.runtime
}

// Stale 过滤出需要删除的缓存名称，保持输入顺序。
func (v VersionManager) Stale(names []string) []string {
	var stale []string
	for _, name := range names {
		if !v.IsCurrent(name) {
			stale = append(stale, name)
		}
	}
	return stale
}
