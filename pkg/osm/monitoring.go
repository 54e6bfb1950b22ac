package osm

import "time"

// MonitoringHooks observe every API request a Client makes. Any hook may be nil.
type MonitoringHooks struct {
	// OnRequest is called before waiting on the rate limiter
	OnRequest func(service, operation string)

	// OnResponse is called once the HTTP exchange finished
	OnResponse func(service, operation string, duration time.Duration, success bool)

	// OnRateLimit is called when the request had to wait for a token
	OnRateLimit func(service string, waitTime time.Duration)

	// OnError is called for every failed request with a short error class
	OnError func(service, errorType string)

	// OnCacheLookup is called for every response cache lookup
	OnCacheLookup func(service string, hit bool)
}

func (h *MonitoringHooks) request(service, operation string) {
	if h != nil && h.OnRequest != nil {
		h.OnRequest(service, operation)
	}
}

func (h *MonitoringHooks) response(service, operation string, d time.Duration, success bool) {
	if h != nil && h.OnResponse != nil {
		h.OnResponse(service, operation, d, success)
	}
}

func (h *MonitoringHooks) rateLimit(service string, wait time.Duration) {
	if h != nil && h.OnRateLimit != nil {
		h.OnRateLimit(service, wait)
	}
}

func (h *MonitoringHooks) failed(service, errorType string) {
	if h != nil && h.OnError != nil {
		h.OnError(service, errorType)
	}
}

func (h *MonitoringHooks) cacheLookup(service string, hit bool) {
	if h != nil && h.OnCacheLookup != nil {
		h.OnCacheLookup(service, hit)
	}
}
