package builtin

import (
	"github.com/filecoin-project/go-state-types/abi"
)

const (
	MethodSend        = abi.MethodNum(0)
	MethodConstructor = abi.MethodNum(1)
)

var MethodsAccount = struct {
	Constructor   abi.MethodNum
	PubkeyAddress abi.MethodNum
}{MethodConstructor, 2}

var MethodsCapsule = struct {
	Constructor       abi.MethodNum
	CreateCapsule     abi.MethodNum
	RevealCapsule     abi.MethodNum
	GetCapsuleDetails abi.MethodNum
	GetTotalCapsules  abi.MethodNum
	GetOwnerCapsules  abi.MethodNum
}{MethodConstructor, 2, 3, 4, 5, 6}
