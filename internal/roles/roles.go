package roles

import "fmt"

// Role is a fixed workflow stage a task can be owned by.
type Role string

const (
	Intake         Role = "intake"
	Research       Role = "research"
	Architecture   Role = "architecture"
	Implementation Role = "implementation"
	Review         Role = "review"
)

// stageOrder is the canonical forward sequence, ignoring redelegation loops.
var stageOrder = []Role{Intake, Research, Architecture, Implementation, Review}

// transitions is the legal forward handoff graph. Completion returns and
// rejections bypass it; they are derived from the chain, not from this table.
var transitions = map[Role][]Role{
	Intake:         {Research, Architecture},
	Research:       {Architecture},
	Architecture:   {Implementation},
	Implementation: {Review},
	Review:         {Architecture},
}

// Info is display metadata for a role. The table is built once and never
// mutated at runtime.
type Info struct {
	Label       string
	Icon        string
	Description string
}

var infoByRole = map[Role]Info{
	Intake:         {Label: "Intake", Icon: "📥", Description: "Accepts new work and routes it into the pipeline"},
	Research:       {Label: "Research", Icon: "🔍", Description: "Investigates unknowns before design starts"},
	Architecture:   {Label: "Architecture", Icon: "📐", Description: "Designs the solution and breaks it down"},
	Implementation: {Label: "Implementation", Icon: "🔨", Description: "Builds the designed solution"},
	Review:         {Label: "Review", Icon: "✅", Description: "Verifies the implementation before sign-off"},
}

// All returns the roles in canonical stage order.
func All() []Role {
	out := make([]Role, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Valid reports whether r is a member of the fixed role set.
func Valid(r Role) bool {
	_, ok := infoByRole[r]
	return ok
}

// Describe returns the display metadata for a role.
func Describe(r Role) Info {
	return infoByRole[r]
}

// StageIndex returns the position of r in the canonical order, or -1.
func StageIndex(r Role) int {
	for i, s := range stageOrder {
		if s == r {
			return i
		}
	}
	return -1
}

// StageCount returns the number of canonical stages.
func StageCount() int { return len(stageOrder) }

// IsLegalTransition reports whether from -> to exists in the fixed graph.
func IsLegalTransition(from, to Role) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a requested edge that is not in the graph.
type InvalidTransitionError struct {
	From Role
	To   Role
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid role transition %s -> %s", e.From, e.To)
}

// Context carries the flags that steer the forward routing decision table.
type Context struct {
	NeedsResearch  bool
	ReviewRejected bool
}

// NextRole computes the default forward role for the current one. It is a
// pure function over an enumerated decision table.
func NextRole(current Role, ctx Context) (Role, error) {
	switch current {
	case Intake:
		if ctx.NeedsResearch {
			return Research, nil
		}
		return Architecture, nil
	case Research:
		return Architecture, nil
	case Architecture:
		return Implementation, nil
	case Implementation:
		return Review, nil
	case Review:
		if ctx.ReviewRejected {
			return Architecture, nil
		}
		return "", fmt.Errorf("role %s has no default forward role", current)
	default:
		return "", fmt.Errorf("unknown role %s", current)
	}
}
