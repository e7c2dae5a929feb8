package launch

import "github.com/aifoundry-org/et-platform-sub018/kernel/scr"

// Role distinguishes the single master shire from the compute shires.
type Role uint8

const (
	RoleMaster Role = iota
	RoleCompute
)

// RoleConfig is the single source of truth for a shire's identity: both
// the pre-launch barrier (Phase 2) and the post-launch barrier (Phase 5)
// read ExpectedThreadMask/ParticipatingThreadCount from here, so the two
// call sites can never drift apart.
type RoleConfig struct {
	Role                     Role
	ExpectedThreadMask       uint64
	ParticipatingThreadCount int
}

// AssignRole maps shireID to its RoleConfig for a device whose shires
// have hartsPerShire harts each. Shire scr.MaxShires-1 (shire 32 on the
// full-size device) is the master: only the upper half of its harts
// participate in a launch (thread 0s are reserved for dispatch
// bookkeeping), giving it an ExpectedThreadMask of e.g.
// 0xFFFFFFFF00000000 when hartsPerShire is 64. Every other shire is a
// compute shire where every hart participates.
func AssignRole(shireID, hartsPerShire int) RoleConfig {
	if shireID == scr.MaxShires-1 {
		half := hartsPerShire / 2
		return RoleConfig{
			Role:                     RoleMaster,
			ExpectedThreadMask:       fullMask(hartsPerShire) &^ fullMask(half),
			ParticipatingThreadCount: hartsPerShire - half,
		}
	}
	return RoleConfig{
		Role:                     RoleCompute,
		ExpectedThreadMask:       fullMask(hartsPerShire),
		ParticipatingThreadCount: hartsPerShire,
	}
}

// ParticipatingThreads returns, in ascending order, the thread indices
// within a shire that actually run the orchestrator under this role.
func (rc RoleConfig) ParticipatingThreads() []uint {
	threads := make([]uint, 0, rc.ParticipatingThreadCount)
	for bit := uint(0); bit < 64; bit++ {
		if rc.ExpectedThreadMask&(uint64(1)<<bit) != 0 {
			threads = append(threads, bit)
		}
	}
	return threads
}

func fullMask(bits int) uint64 {
	if bits <= 0 {
		return 0
	}
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(bits)) - 1
}
