package deployment

import "fmt"

// =============================================================================
// Endpoint Construction
// =============================================================================

// Endpoint builds the externally reachable URL for a running deployment from
// the runtime host and the first configured port.
//
// Example:
//
//	Endpoint("localhost", []int{3000, 3001}) // returns "http://localhost:3000"
//	Endpoint("10.0.0.5", nil)                // returns "http://10.0.0.5"
func Endpoint(host string, ports []int) string {
	if len(ports) == 0 {
		return fmt.Sprintf("http://%s", host)
	}
	return fmt.Sprintf("http://%s:%d", host, ports[0])
}
