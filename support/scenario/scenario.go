package scenario

import (
	"github.com/BurntSushi/toml"
	"github.com/filecoin-project/go-state-types/abi"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/timeloc/capsule-actors/actors/builtin"
)

var log = logging.Logger("scenario")

// Method names accepted in scenario files.
const (
	MethodCreateCapsule     = "create-capsule"
	MethodRevealCapsule     = "reveal-capsule"
	MethodGetCapsuleDetails = "get-capsule-details"
	MethodGetTotalCapsules  = "get-total-capsules"
	MethodGetOwnerCapsules  = "get-owner-capsules"
)

var methods = map[string]abi.MethodNum{
	MethodCreateCapsule:     builtin.MethodsCapsule.CreateCapsule,
	MethodRevealCapsule:     builtin.MethodsCapsule.RevealCapsule,
	MethodGetCapsuleDetails: builtin.MethodsCapsule.GetCapsuleDetails,
	MethodGetTotalCapsules:  builtin.MethodsCapsule.GetTotalCapsules,
	MethodGetOwnerCapsules:  builtin.MethodsCapsule.GetOwnerCapsules,
}

// Scenario is a sequence of blocks to mine against a fresh chain.
type Scenario struct {
	Name string `toml:"name"`
	// Named accounts created at genesis, in order.
	Accounts []string `toml:"accounts"`
	Steps    []Step   `toml:"step"`
}

// Step mines empty blocks until the tip reaches AdvanceTo, then mines one block holding Txs.
// A step with neither mines a single empty block.
type Step struct {
	AdvanceTo int64 `toml:"advance_to"`
	Txs       []Tx  `toml:"tx"`
}

// Tx is a message sent to the capsule actor.
type Tx struct {
	From         string  `toml:"from"`
	Method       string  `toml:"method"`
	Message      string  `toml:"message"`
	LockDuration uint64  `toml:"lock_duration"`
	ID           uint64  `toml:"id"`
	Owner        string  `toml:"owner"` // get-owner-capsules only, defaults to From
	Expect       *Expect `toml:"expect"`
}

// Expect is checked against a receipt. Code is always checked; the other fields only when set.
type Expect struct {
	Code        int64    `toml:"code"`
	ID          *uint64  `toml:"id"`
	Message     *string  `toml:"message"`
	Owner       *string  `toml:"owner"`
	UnlockEpoch *int64   `toml:"unlock_epoch"`
	Revealed    *bool    `toml:"revealed"`
	Count       *uint64  `toml:"count"`
	IDs         []uint64 `toml:"ids"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	var sc Scenario
	md, err := toml.DecodeFile(path, &sc)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode scenario %s: %w", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, xerrors.Errorf("scenario %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid scenario %s: %w", path, err)
	}
	log.Debugw("loaded scenario", "path", path, "name", sc.Name, "steps", len(sc.Steps))
	return &sc, nil
}

// Parse decodes and validates a scenario held in memory.
func Parse(data string) (*Scenario, error) {
	var sc Scenario
	md, err := toml.Decode(data, &sc)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode scenario: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

func checkUndecoded(md toml.MetaData) error {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return xerrors.Errorf("unknown keys %v", undecoded)
	}
	return nil
}

// Validate checks that every account name is unique and that transactions name known accounts and methods.
func (sc *Scenario) Validate() error {
	known := make(map[string]struct{}, len(sc.Accounts))
	for _, name := range sc.Accounts {
		if name == "" {
			return xerrors.Errorf("empty account name")
		}
		if _, dup := known[name]; dup {
			return xerrors.Errorf("duplicate account %q", name)
		}
		known[name] = struct{}{}
	}

	for i, step := range sc.Steps {
		if step.AdvanceTo < 0 {
			return xerrors.Errorf("step %d: negative height %d", i, step.AdvanceTo)
		}
		for j, tx := range step.Txs {
			if _, ok := known[tx.From]; !ok {
				return xerrors.Errorf("step %d tx %d: unknown account %q", i, j, tx.From)
			}
			if _, ok := methods[tx.Method]; !ok {
				return xerrors.Errorf("step %d tx %d: unknown method %q", i, j, tx.Method)
			}
			if tx.Owner != "" {
				if _, ok := known[tx.Owner]; !ok {
					return xerrors.Errorf("step %d tx %d: unknown owner %q", i, j, tx.Owner)
				}
			}
		}
	}
	return nil
}
