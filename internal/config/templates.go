package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a starter relay config in the given format.
func Template(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "toml":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

func WriteTemplate(path, format string, overwrite bool) error {
	template, err := Template(format)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const tomlTemplate = `node_id = "maat"
listen_addr = "0.0.0.0:6767"
engine = "worker"
ws_listen_addr = ""
ws_path = "/ws"
admin_listen_addr = "127.0.0.1:6768"
cors_origins = ["http://localhost:3000"]
max_connections = 0
read_chunk_limit = 65536
# 0 busy-polls; negative waits for readiness or a wake
poll_timeout = "500ms"
log_level = "info"
`

const yamlTemplate = `node_id: maat
listen_addr: 0.0.0.0:6767
engine: worker
ws_listen_addr: ""
ws_path: /ws
admin_listen_addr: 127.0.0.1:6768
cors_origins:
  - http://localhost:3000
max_connections: 0
read_chunk_limit: 65536
# 0 busy-polls; negative waits for readiness or a wake
poll_timeout: 500ms
log_level: info
`
