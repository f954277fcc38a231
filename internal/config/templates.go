package config

import (
	"fmt"
	"os"
)

// WriteTemplate writes the example device config to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(deviceTemplate), 0o600)
}

const deviceTemplate = `id = "dev.local"
storage_root = "local/data"
listen_addr = "127.0.0.1:7070"
admin_addr = "127.0.0.1:7071"
cors_origins = ["http://localhost:3000"]
boot_script = "index.js"
queue_depth = 64
max_chunk_bytes = 65536
`
