package config

import "os"

// ConfigPath is the default config file, overridable with CHAT_CONFIG.
var ConfigPath = func() string {
	if v := os.Getenv("CHAT_CONFIG"); v != "" {
		return v
	}
	return "services/chat/config.yaml"
}()
