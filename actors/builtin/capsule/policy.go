package capsule

// The maximum length, in bytes, of a capsule message.
// Bounds the state a single capsule can add to the store.
const MaxMessageLength = 500

// The identifier assigned to the first capsule created. Identifier zero is never used.
const FirstCapsuleID = uint64(1)

// Bitwidth of the AMT holding capsules by identifier.
const CapsulesAmtBitwidth = 5

// Bitwidths of the HAMT of AMTs indexing capsule identifiers by owner.
const (
	OwnersHamtBitwidth       = 5
	OwnerCapsulesAmtBitwidth = 5
)
