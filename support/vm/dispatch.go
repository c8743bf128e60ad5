package vm

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"

	"github.com/timeloc/capsule-actors/actors/runtime"
)

var typeOfRuntimeInterface = reflect.TypeOf((*runtime.Runtime)(nil)).Elem()
var typeOfCborUnmarshaler = reflect.TypeOf((*cbor.Unmarshaler)(nil)).Elem()
var typeOfCborMarshaler = reflect.TypeOf((*cbor.Marshaler)(nil)).Elem()

// ExecuteError is a failure to dispatch a message to an actor method.
type ExecuteError struct {
	code exitcode.ExitCode
	msg  string
}

func newExecuteError(code exitcode.ExitCode, msg string, args ...interface{}) *ExecuteError {
	return &ExecuteError{code: code, msg: fmt.Sprintf(msg, args...)}
}

func (err *ExecuteError) ExitCode() exitcode.ExitCode {
	return err.code
}

func (err *ExecuteError) Error() string {
	return err.msg
}

// dispatch calls the exported method of the actor with the runtime and the params decoded into the type the
// method expects.
func dispatch(actor runtime.VMActor, methodNum abi.MethodNum, rt runtime.Runtime, params []byte) (cbor.Marshaler, *ExecuteError) {
	// get method signature
	m, xerr := signature(actor, methodNum)
	if xerr != nil {
		return nil, xerr
	}

	// build args to pass to the method
	args := []reflect.Value{
		// the runtime will be automatically coerced
		reflect.ValueOf(rt),
	}

	paramType := m.Type().In(1)
	arg := reflect.New(paramType.Elem())
	if err := arg.Interface().(cbor.Unmarshaler).UnmarshalCBOR(bytes.NewReader(params)); err != nil {
		return nil, newExecuteError(exitcode.ErrSerialization, "failed to decode params for method %d: %v", methodNum, err)
	}
	args = append(args, arg)

	// invoke the method
	out := m.Call(args)

	// method returns unit
	// Note: we need to check for `IsNil()` here because Go doesnt work if you do `== nil` on the interface
	if len(out) == 0 || out[0].IsNil() {
		return nil, nil
	}

	ret, ok := out[0].Interface().(cbor.Marshaler)
	if !ok {
		return nil, newExecuteError(exitcode.SysErrInvalidMethod, "could not determine type for response from call")
	}
	return ret, nil
}

func signature(actor runtime.VMActor, methodNum abi.MethodNum) (reflect.Value, *ExecuteError) {
	exports := actor.Exports()

	// get method entry
	methodIdx := uint64(methodNum)
	if uint64(len(exports)) <= methodIdx || exports[methodIdx] == nil {
		return reflect.Value{}, newExecuteError(exitcode.SysErrInvalidMethod, "method undefined. method: %d, code: %s", methodNum, actor.Code())
	}

	m := reflect.ValueOf(exports[methodIdx])
	t := m.Type()
	if t.Kind() != reflect.Func || t.NumIn() != 2 || t.NumOut() != 1 ||
		t.In(0) != typeOfRuntimeInterface ||
		t.In(1).Kind() != reflect.Ptr || !t.In(1).Implements(typeOfCborUnmarshaler) ||
		t.Out(0).Kind() != reflect.Ptr || !t.Out(0).Implements(typeOfCborMarshaler) {
		return reflect.Value{}, newExecuteError(exitcode.SysErrInvalidMethod, "method %d of %s has an invalid signature %v", methodNum, actor.Code(), t)
	}
	return m, nil
}
