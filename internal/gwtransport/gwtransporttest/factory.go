package gwtransporttest

import "mcpgateway/internal/gwtransport"

// Factory returns a gwtransport.Transport factory backed by a sequence
// of Fakes: the first call returns fakes[0], the second fakes[1], and
// so on, holding on the last one once exhausted. Useful for exercising
// BackendService's reconnect loop landing on a healthy transport after
// one or more unhealthy attempts.
func Factory(fakes ...*Fake) func() (gwtransport.Transport, error) {
	i := 0
	return func() (gwtransport.Transport, error) {
		f := fakes[i]
		if i < len(fakes)-1 {
			i++
		}
		return f, nil
	}
}
