package health

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// StartupCompleteChecker reports unhealthy until MarkComplete is called,
// so load balancers do not route to a process that is still starting up.
type StartupCompleteChecker struct {
	complete atomic.Value
}

func NewStartupCompleteChecker() *StartupCompleteChecker {
	checker := &StartupCompleteChecker{}
	checker.complete.Store(false)
	return checker
}

func (c *StartupCompleteChecker) Check() error {
	if complete, ok := c.complete.Load().(bool); ok && complete {
		return nil
	}
	return errors.New("startup is not yet complete")
}

func (c *StartupCompleteChecker) MarkComplete() {
	c.complete.Store(true)
}
