package placeholder

import (
	"time"

	"github.com/dop251/goja"
)

// evalScript runs a {js:expr} body in a throwaway VM with the environment
// capture bound as globals. Any error, including the timeout interrupt,
// keeps the token literal. Expressions cannot contain "}" since the token
// scan ends at the first closing brace.
func evalScript(expr string, env Env, timeout time.Duration) (string, bool) {
	vm := goja.New()
	if err := vm.Set("now", env.Now.UnixMilli()); err != nil {
		return "", false
	}
	if err := vm.Set("clipboard", env.Clipboard); err != nil {
		return "", false
	}

	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("script deadline exceeded")
	})
	defer timer.Stop()

	v, err := vm.RunString(expr)
	if err != nil {
		return "", false
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", false
	}
	return v.String(), true
}
