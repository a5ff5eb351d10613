package matcher

import (
	"SDM/configs"
	"SDM/storage"
	"math"
	"sync"

	set "github.com/deckarep/golang-set"
)

// Profile is the read-only attribute snapshot used for matching. The profile
// service owns the authoritative record; the core only caches immutable
// snapshots.
type Profile struct {
	Pid    uint64
	Gender uint8
	Age    int
	// coarse location cell, city-block granularity.
	LocX, LocY float64
	Prefs      storage.Prefs
	Blocked    set.Set // pids this participant refuses to meet
}

// Directory is the adapter over the external profile/preference store.
type Directory interface {
	Lookup(pid uint64) (*Profile, bool)
}

// StaticDirectory serves profiles from memory; production wires the profile
// service behind the same interface.
type StaticDirectory struct {
	cache sync.Map // pid -> *Profile
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{}
}

func (d *StaticDirectory) Put(p *Profile) {
	if p.Blocked == nil {
		p.Blocked = set.NewSet()
	}
	d.cache.Store(p.Pid, p)
}

func (d *StaticDirectory) Lookup(pid uint64) (*Profile, bool) {
	v, ok := d.cache.Load(pid)
	if !ok {
		return nil, false
	}
	return v.(*Profile), true
}

// GenderCompatible holds in both directions or not at all.
func GenderCompatible(a, b *Profile) bool {
	return prefAccepts(a.Prefs.GenderPref, b.Gender) && prefAccepts(b.Prefs.GenderPref, a.Gender)
}

func prefAccepts(pref uint8, gender uint8) bool {
	switch pref {
	case configs.PrefEither:
		return true
	case configs.PrefWomen:
		return gender == configs.GenderFemale
	case configs.PrefMen:
		return gender == configs.GenderMale
	default:
		return false
	}
}

func Blocks(a, b *Profile) bool {
	return a.Blocked != nil && a.Blocked.Contains(b.Pid) ||
		b.Blocked != nil && b.Blocked.Contains(a.Pid)
}

func Distance(a, b *Profile) float64 {
	dx := a.LocX - b.LocX
	dy := a.LocY - b.LocY
	return math.Sqrt(dx*dx + dy*dy)
}

// Narrowness maps preference tightness into [0,1]; 1 is the widest net.
// Age contributes half over a 40-year reference span, distance the other
// half over a 100-unit reference radius.
func Narrowness(p storage.Prefs) float64 {
	ageSpan := float64(p.AgeMax - p.AgeMin)
	if ageSpan < 0 {
		ageSpan = 0
	}
	ageScore := math.Min(ageSpan/40.0, 1.0)
	distScore := math.Min(p.MaxDist/100.0, 1.0)
	return (ageScore + distScore) / 2
}
