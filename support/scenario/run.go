package scenario

import (
	"context"
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	cid "github.com/ipfs/go-cid"
	"github.com/minio/sha256-simd"
	"golang.org/x/xerrors"

	"github.com/timeloc/capsule-actors/actors/builtin"
	"github.com/timeloc/capsule-actors/actors/builtin/account"
	"github.com/timeloc/capsule-actors/actors/builtin/capsule"
	"github.com/timeloc/capsule-actors/support/vm"
)

// Entry is the outcome of one scenario transaction.
type Entry struct {
	Height   abi.ChainEpoch    `json:"height"`
	From     string            `json:"from"`
	Method   string            `json:"method"`
	ExitCode exitcode.ExitCode `json:"exitCode"`
	Return   string            `json:"return,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func (e Entry) String() string {
	line := fmt.Sprintf("%d %s %s exit=%d", e.Height, e.From, e.Method, int64(e.ExitCode))
	if e.Return != "" {
		line += " " + e.Return
	}
	return line
}

// Result is the outcome of running a scenario.
type Result struct {
	Name      string         `json:"name"`
	Height    abi.ChainEpoch `json:"height"`
	StateRoot cid.Cid        `json:"stateRoot"`
	Tip       string         `json:"tip"`
	Entries   []Entry        `json:"entries"`
	// Unmet expectations and broken state invariants.
	Failures []string `json:"failures,omitempty"`
}

// Transcript renders one line per entry.
func (r *Result) Transcript() string {
	var b strings.Builder
	for _, e := range r.Entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Digest is the sha256 of the transcript.
func (r *Result) Digest() string {
	sum := sha256.Sum256([]byte(r.Transcript()))
	return hex.EncodeToString(sum[:])
}

// Check returns an error listing the failures, if any.
func (r *Result) Check() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return xerrors.Errorf("scenario %q: %d failures:\n  %s", r.Name, len(r.Failures), strings.Join(r.Failures, "\n  "))
}

type runner struct {
	chain *vm.Chain
	addrs map[string]addr.Address
	names map[addr.Address]string
	res   *Result
}

// Run executes a scenario against a new chain. Expectation mismatches are reported in the result;
// an error means the scenario could not be run at all.
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	chain, err := vm.NewChain(ctx, len(sc.Accounts))
	if err != nil {
		return nil, xerrors.Errorf("failed to create chain: %w", err)
	}

	r := &runner{
		chain: chain,
		addrs: make(map[string]addr.Address, len(sc.Accounts)),
		names: make(map[addr.Address]string, len(sc.Accounts)),
		res:   &Result{Name: sc.Name},
	}
	for i, name := range sc.Accounts {
		r.addrs[name] = chain.Accounts()[i]
		r.names[chain.Accounts()[i]] = name
	}

	for _, step := range sc.Steps {
		if err := r.runStep(step); err != nil {
			return nil, err
		}
	}

	if err := r.checkInvariants(); err != nil {
		return nil, err
	}

	r.res.Height = chain.Height()
	r.res.StateRoot = chain.Tip().StateRoot
	r.res.Tip = chain.Tip().Digest.String()
	log.Infow("ran scenario", "name", sc.Name, "height", r.res.Height, "entries", len(r.res.Entries), "failures", len(r.res.Failures))
	return r.res, nil
}

func (r *runner) runStep(step Step) error {
	if step.AdvanceTo > 0 {
		r.chain.MineEmptyBlockUntil(abi.ChainEpoch(step.AdvanceTo))
		if len(step.Txs) == 0 {
			return nil
		}
	}

	msgs := make([]vm.Message, len(step.Txs))
	for i, tx := range step.Txs {
		msg, err := r.message(tx)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}

	blk := r.chain.MineBlock(msgs...)
	for i, tx := range step.Txs {
		receipt := blk.Receipts[i]
		entry := Entry{
			Height:   blk.Height,
			From:     tx.From,
			Method:   tx.Method,
			ExitCode: receipt.ExitCode,
			Return:   r.render(receipt.Ret),
			Error:    receipt.Error,
		}
		r.res.Entries = append(r.res.Entries, entry)
		if tx.Expect != nil {
			for _, f := range r.check(tx.Expect, receipt) {
				r.res.Failures = append(r.res.Failures, fmt.Sprintf("%s: %s", entry, f))
			}
		}
	}
	return nil
}

func (r *runner) message(tx Tx) (vm.Message, error) {
	method, ok := methods[tx.Method]
	if !ok {
		return vm.Message{}, xerrors.Errorf("unknown method %q", tx.Method)
	}

	var params cbor.Marshaler
	switch tx.Method {
	case MethodCreateCapsule:
		params = &capsule.CreateCapsuleParams{Message: tx.Message, LockDuration: tx.LockDuration}
	case MethodRevealCapsule, MethodGetCapsuleDetails:
		params = &capsule.CapsuleIDParams{ID: tx.ID}
	case MethodGetOwnerCapsules:
		owner := tx.Owner
		if owner == "" {
			owner = tx.From
		}
		params = &capsule.OwnerParams{Owner: r.addrs[owner]}
	}

	return vm.Message{
		From:   r.addrs[tx.From],
		To:     builtin.CapsuleActorAddr,
		Method: method,
		Params: params,
	}, nil
}

func (r *runner) name(a addr.Address) string {
	if name, ok := r.names[a]; ok {
		return name
	}
	return a.String()
}

func (r *runner) render(ret cbor.Marshaler) string {
	switch v := ret.(type) {
	case *capsule.CreateCapsuleReturn:
		return fmt.Sprintf("id=%d", v.ID)
	case *capsule.RevealCapsuleReturn:
		return fmt.Sprintf("message=%q", v.Message)
	case *capsule.CapsuleDetails:
		return fmt.Sprintf("owner=%s unlock=%d revealed=%t", r.name(v.Owner), v.UnlockEpoch, v.Revealed)
	case *capsule.TotalCapsulesReturn:
		return fmt.Sprintf("count=%d", v.Count)
	case *capsule.OwnerCapsules:
		return fmt.Sprintf("ids=%v", v.IDs)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (r *runner) check(exp *Expect, receipt vm.Receipt) []string {
	var failures []string
	failf := func(format string, args ...interface{}) {
		failures = append(failures, fmt.Sprintf(format, args...))
	}

	if code := exitcode.ExitCode(exp.Code); receipt.ExitCode != code {
		failf("exit code %d, expected %d", int64(receipt.ExitCode), int64(code))
		return failures
	}

	switch ret := receipt.Ret.(type) {
	case *capsule.CreateCapsuleReturn:
		if exp.ID != nil && ret.ID != *exp.ID {
			failf("id %d, expected %d", ret.ID, *exp.ID)
		}
	case *capsule.RevealCapsuleReturn:
		if exp.Message != nil && ret.Message != *exp.Message {
			failf("message %q, expected %q", ret.Message, *exp.Message)
		}
	case *capsule.CapsuleDetails:
		if exp.Owner != nil && r.name(ret.Owner) != *exp.Owner {
			failf("owner %s, expected %s", r.name(ret.Owner), *exp.Owner)
		}
		if exp.UnlockEpoch != nil && int64(ret.UnlockEpoch) != *exp.UnlockEpoch {
			failf("unlock epoch %d, expected %d", ret.UnlockEpoch, *exp.UnlockEpoch)
		}
		if exp.Revealed != nil && ret.Revealed != *exp.Revealed {
			failf("revealed %t, expected %t", ret.Revealed, *exp.Revealed)
		}
	case *capsule.TotalCapsulesReturn:
		if exp.Count != nil && ret.Count != *exp.Count {
			failf("count %d, expected %d", ret.Count, *exp.Count)
		}
	case *capsule.OwnerCapsules:
		if exp.IDs != nil && !sameIDs(ret.IDs, exp.IDs) {
			failf("ids %v, expected %v", ret.IDs, exp.IDs)
		}
	}
	return failures
}

func sameIDs(a, b []uint64) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func (r *runner) checkInvariants() error {
	v := r.chain.VM()
	st, err := v.GetCapsuleState()
	if err != nil {
		return xerrors.Errorf("failed to load capsule state: %w", err)
	}
	_, msgs, err := capsule.CheckStateInvariants(st, v.Store(), v.GetEpoch())
	if err != nil {
		return xerrors.Errorf("failed to check capsule state: %w", err)
	}
	for _, m := range msgs.Messages() {
		r.res.Failures = append(r.res.Failures, "invariant: "+m)
	}

	for _, a := range r.chain.Accounts() {
		var st account.State
		if err := v.GetState(a, &st); err != nil {
			return xerrors.Errorf("failed to load account %v: %w", a, err)
		}
		_, msgs, err := account.CheckStateInvariants(&st, v.Store())
		if err != nil {
			return xerrors.Errorf("failed to check account %v: %w", a, err)
		}
		for _, m := range msgs.Messages() {
			r.res.Failures = append(r.res.Failures, fmt.Sprintf("invariant: account %s: %s", r.name(a), m))
		}
	}
	return nil
}
