package substrate

import (
	"fmt"
	"strings"
)

var networks = map[string]string{
	"finney":  "wss://entrypoint-finney.opentensor.ai:443",
	"test":    "wss://test.finney.opentensor.ai:443",
	"archive": "wss://archive.chain.opentensor.ai:443",
	"local":   "ws://127.0.0.1:9944",
}

// ResolveEndpoint maps a network name to its websocket endpoint.
// ws:// and wss:// URLs are returned unchanged.
func ResolveEndpoint(network string) (string, error) {
	network = strings.TrimSpace(network)
	if strings.HasPrefix(network, "ws://") || strings.HasPrefix(network, "wss://") {
		return network, nil
	}
	if endpoint, ok := networks[strings.ToLower(network)]; ok {
		return endpoint, nil
	}
	return "", fmt.Errorf("unknown network %q", network)
}
