package mock

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/timeloc/capsule-actors/actors/runtime"
)

// CheckActorExports checks that every exported method of an actor has the signature the VM can dispatch to.
func CheckActorExports(t *testing.T, act runtime.VMActor) {
	for i, m := range act.Exports() {
		if i == 0 { // Send is implicit
			continue
		}

		if m == nil {
			continue
		}

		t.Run(fmt.Sprintf("method%d-type", i), func(t *testing.T) {
			mrt := Runtime{t: t}
			mrt.verifyExportedMethodType(reflect.ValueOf(m))
		})
	}
}
