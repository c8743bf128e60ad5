package builtin

import (
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// The built-in actor code IDs
var SystemActorCodeID cid.Cid
var AccountActorCodeID cid.Cid
var CapsuleActorCodeID cid.Cid

// Set of actor code types that can represent external signing parties.
var CallerTypesSignable []cid.Cid

var builtinActorNames map[cid.Cid]string

func init() {
	builder := cid.V1Builder{Codec: cid.Raw, MhType: mh.IDENTITY}
	builtinActorNames = make(map[cid.Cid]string)
	makeBuiltin := func(s string) cid.Cid {
		c, err := builder.Sum([]byte(s))
		if err != nil {
			panic(err)
		}
		builtinActorNames[c] = s
		return c
	}

	SystemActorCodeID = makeBuiltin("timeloc/1/system")
	AccountActorCodeID = makeBuiltin("timeloc/1/account")
	CapsuleActorCodeID = makeBuiltin("timeloc/1/capsule")

	CallerTypesSignable = []cid.Cid{AccountActorCodeID}
}

// ActorNameByCode returns the (string) name of the actor given a cid code.
// When the actor code is not recognized, it returns "<unknown>".
func ActorNameByCode(code cid.Cid) string {
	if !code.Defined() {
		return "<undefined>"
	}
	name, ok := builtinActorNames[code]
	if !ok {
		return "<unknown>"
	}
	return name
}

// IsBuiltinActor reports whether the code is one of the built-in actor codes.
func IsBuiltinActor(code cid.Cid) bool {
	_, ok := builtinActorNames[code]
	return ok
}

// IsAccountActor reports whether the code is the account actor code.
func IsAccountActor(code cid.Cid) bool {
	return code.Equals(AccountActorCodeID)
}
