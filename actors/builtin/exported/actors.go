package exported

import (
	"github.com/timeloc/capsule-actors/actors/builtin/account"
	"github.com/timeloc/capsule-actors/actors/builtin/capsule"
	"github.com/timeloc/capsule-actors/actors/builtin/system"
	"github.com/timeloc/capsule-actors/actors/runtime"
)

// BuiltinActors returns the implementations of every builtin actor.
func BuiltinActors() []runtime.VMActor {
	return []runtime.VMActor{
		system.Actor{},
		account.Actor{},
		capsule.Actor{},
	}
}
