package builtin

import (
	"github.com/filecoin-project/go-state-types/exitcode"

	"github.com/timeloc/capsule-actors/actors/runtime"
)

///// Code shared by multiple built-in actors. /////

// In the event that an error is non-nil, aborts with the exit code carried by the error, or
// defaultExitCode if the error carries none.
func RequireNoErr(rt runtime.Runtime, err error, defaultExitCode exitcode.ExitCode, msg string, args ...interface{}) {
	if err != nil {
		newMsg := msg + ": %s"
		newArgs := append(args, err)
		code := exitcode.Unwrap(err, defaultExitCode)
		rt.Abortf(code, newMsg, newArgs...)
	}
}
