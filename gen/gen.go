package main

import (
	gen "github.com/whyrusleeping/cbor-gen"

	"github.com/timeloc/capsule-actors/actors/builtin/account"
	"github.com/timeloc/capsule-actors/actors/builtin/capsule"
	"github.com/timeloc/capsule-actors/actors/builtin/system"
	"github.com/timeloc/capsule-actors/support/vm"
)

func main() {
	// Actors
	if err := gen.WriteTupleEncodersToFile("./actors/builtin/system/cbor_gen.go", "system",
		// actor state
		system.State{},
	); err != nil {
		panic(err)
	}

	if err := gen.WriteTupleEncodersToFile("./actors/builtin/account/cbor_gen.go", "account",
		// actor state
		account.State{},
	); err != nil {
		panic(err)
	}

	if err := gen.WriteTupleEncodersToFile("./actors/builtin/capsule/cbor_gen.go", "capsule",
		// actor state
		capsule.State{},
		capsule.Capsule{},
		// method params and returns
		capsule.CreateCapsuleParams{},
		capsule.CreateCapsuleReturn{},
		capsule.CapsuleIDParams{},
		capsule.RevealCapsuleReturn{},
		capsule.CapsuleDetails{},
		capsule.TotalCapsulesReturn{},
		capsule.OwnerParams{},
		capsule.OwnerCapsules{},
	); err != nil {
		panic(err)
	}

	// Test VM
	if err := gen.WriteTupleEncodersToFile("./support/vm/cbor_gen.go", "vm",
		vm.TestActor{},
		vm.StateTree{},
	); err != nil {
		panic(err)
	}
}
