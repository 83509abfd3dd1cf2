package domain

// HostMatcher はキャッシュを経由させないホストを判定する.
type HostMatcher interface {
	Matches(host string) bool
	Reload() error
}
