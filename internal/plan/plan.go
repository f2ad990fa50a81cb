// Package plan maps subscription tiers to quota ceilings.
package plan

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// Limits are the per-owner quota ceilings seeded into a quota account.
type Limits struct {
	MaxDocuments         int
	MaxDocumentSizeBytes int64
	MaxDocumentPages     int
}

func LimitsFor(p Plan) Limits {
	switch p {
	case PlanPro:
		return Limits{
			MaxDocuments:         100,
			MaxDocumentSizeBytes: 16 * 1024 * 1024,
			MaxDocumentPages:     250,
		}
	default:
		return Limits{
			MaxDocuments:         10,
			MaxDocumentSizeBytes: 1024 * 1024,
			MaxDocumentPages:     10,
		}
	}
}

func Normalize(p string) Plan {
	switch Plan(p) {
	case PlanFree, PlanPro:
		return Plan(p)
	default:
		return PlanFree
	}
}
