package surface

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hypervideo/client-simulator/pkg/api"
)

// ErrElementNotFound is returned (possibly wrapped) by Driver.WaitFor when
// the element did not appear within the given timeout. Any other WaitFor
// error means the surface itself failed.
var ErrElementNotFound = errors.New("element did not appear")

// Driver is the contract towards a remote-controlled rendering process.
// The strategy depends only on this narrow interface, never on a concrete
// automation technology. Implementations must honor ctx cancellation on
// every call.
type Driver interface {
	// Navigate loads url in the surface.
	Navigate(ctx context.Context, url string) error

	// SetCookie installs a cookie so it is sent on subsequent navigations.
	SetCookie(ctx context.Context, cookie Cookie) error

	// WaitFor blocks until an element matching selector exists, the timeout
	// expires (ErrElementNotFound) or ctx is done.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error

	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error

	// Type replaces the current value of the element matching selector
	// with text.
	Type(ctx context.Context, selector string, text string) error

	// Attribute reads an attribute of the first element matching selector.
	// A missing attribute yields the empty string, not an error.
	Attribute(ctx context.Context, selector string, name string) (string, error)

	// Evaluate runs script inside the page. The script is a function
	// declaration; args are passed as its arguments. The return value is
	// the JSON-encoded result of the call.
	Evaluate(ctx context.Context, script string, args ...interface{}) (string, error)

	// Close tears the surface process down and releases all its resources.
	Close(ctx context.Context) error
}

// Cookie is a cookie to be installed in the surface before navigation.
type Cookie struct {
	Name   string
	Value  string
	Domain string
}

// Options carry the per-participant launch parameters of a rendering
// surface.
type Options struct {
	Headless  bool
	FakeMedia api.FakeMedia
}

// Factory launches a new rendering surface. Each participant gets its own
// surface; surfaces are never shared or pooled.
type Factory func(ctx context.Context, opts Options) (Driver, error)
