package runtime

import (
	"github.com/filecoin-project/go-state-types/rt"
)

// Concrete types associated with the runtime interface.

// VMActor is the interface every actor implementation registered with a VM satisfies:
// exported methods indexed by method number, a code CID and an empty state object.
type VMActor = rt.VMActor
