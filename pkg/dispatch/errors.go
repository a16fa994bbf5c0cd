package dispatch

import "fmt"

// HandlerError is a failure raised by one handler's action. It is logged and
// never stops the remaining handlers.
type HandlerError struct {
	Handler string
	Err     error
	Panic   bool
}

func (e *HandlerError) Error() string {
	if e.Panic {
		return fmt.Sprintf("handler %s panicked: %v", e.Handler, e.Err)
	}
	return fmt.Sprintf("handler %s failed: %v", e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
