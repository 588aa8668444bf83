package vocab

import "github.com/matheus3301/rosterd/internal/graph"

// DefaultGenerator is the nie:generator value marking persons rosterd created.
const DefaultGenerator = "rosterd"

// Ownership tells who created a person entity.
type Ownership uint8

const (
	// Unmarked persons carry no generator; another producer may rely on them.
	Unmarked Ownership = iota
	// Owned persons were created by this engine.
	Owned
	// Foreign persons were created by another producer.
	Foreign
)

func (o Ownership) String() string {
	switch o {
	case Owned:
		return "owned"
	case Foreign:
		return "foreign"
	default:
		return "unmarked"
	}
}

// OwnershipOf classifies a generator value read from the store. A zero term
// means the person has no generator.
func OwnershipOf(generator graph.Term, self string) Ownership {
	switch {
	case generator.IsZero():
		return Unmarked
	case generator.Value == self:
		return Owned
	default:
		return Foreign
	}
}
