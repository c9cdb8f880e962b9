package health

// Checker reports whether a component is able to serve.
// A nil return means healthy.
type Checker interface {
	Check() error
}
