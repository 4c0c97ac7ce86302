// Package licensing validates plugin license keys and derives the grant that
// gates commercial plugin use: validity, plan, feature set, and usage ceiling.
package licensing

// Well-known plan names. Anything other than PlanFree and PlanDemo is a
// commercial plan.
const (
	PlanFree       = "free"
	PlanDemo       = "demo"
	PlanBasic      = "basic"
	PlanPro        = "professional"
	PlanEnterprise = "enterprise"
)

// Grant is the result of one license validation: a value derived per call,
// never persisted as an entity of its own.
type Grant struct {
	Valid        bool     `json:"valid"`
	Plan         string   `json:"plan"`
	Features     []string `json:"features"`
	UsageLimit   int64    `json:"usage_limit,omitempty"` // 0 means unlimited
	CurrentUsage int64    `json:"current_usage,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

// HasFeature reports whether the grant enables a feature. Free-plan grants
// always satisfy feature checks.
func (g *Grant) HasFeature(feature string) bool {
	if g == nil || !g.Valid {
		return false
	}
	if g.Plan == PlanFree {
		return true
	}
	for _, f := range g.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// UsageExceeded reports whether the grant's usage ceiling has been reached.
// Grants without a ceiling never report exceeded.
func (g *Grant) UsageExceeded() bool {
	if g == nil || g.UsageLimit <= 0 {
		return false
	}
	return g.CurrentUsage >= g.UsageLimit
}

// commercialPlan reports whether plan names a paid tier eligible for the
// offline fallback when the license server is unreachable.
func commercialPlan(plan string) bool {
	switch plan {
	case "", PlanFree, PlanDemo:
		return false
	}
	return true
}
