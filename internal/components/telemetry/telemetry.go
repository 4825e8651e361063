package telemetry

import (
	"fmt"
)

// API is an abstraction over logging/metrics so that tests can assert on what a
// component reported.
//
// note: fault injection point
type API interface {
	// ReportBroken reports a component that broke in a way that should be addressed.
	//
	// The `id` names the component and method that broke, not the specific line. A failed
	// HTTP request inside the ClubOS login handshake is reported as `login`, the scope
	// (see ScopedAPI) supplies the package. Additional context goes into params.
	//
	// Formatting rules:
	// 1) all lowercase
	// 2) underscores for large components
	// 3) dashes for methods part of a larger component
	ReportBroken(id string, params ...any)

	// ReportWarning reports something that is not necessarily broken but may be worth
	// looking at, like a fallback strategy being used or a data source being absent.
	ReportWarning(id string, params ...any)

	// ReportDebug reports debug information that is ignored in production.
	ReportDebug(msg string, params ...any)

	// ReportCount reports the current count of a specific event at the current time.
	// Counts are points of data over time, they should not be summed.
	ReportCount(id string, count int64)
}

// ScopedAPI attaches a namespace to every id reported through it, like a sub logger.
type ScopedAPI struct {
	namespace string
	inner     API
}

// NewScopedAPI creates a ScopedAPI out of a given namespace and another api.
func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(fmt.Sprintf("%s: %s", s.namespace, msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(fmt.Sprintf("%s: %s", s.namespace, id), count)
}

// OrDefault returns tel, or a SlogAPI when tel is nil.
func OrDefault(tel API) API {
	if tel == nil {
		return SlogAPI{}
	}
	return tel
}
