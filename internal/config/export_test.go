package config

// DetectFormat exports detectFormat for testing.
var DetectFormat = detectFormat

// MakeTestConfig returns a minimal valid Config.
func MakeTestConfig() *Config {
	return &Config{
		Server:   ServerConfig{Listen: "127.0.0.1:8787"},
		Upstream: UpstreamConfig{APIKey: "sk-ant-test"},
		Quota:    QuotaConfig{DefaultLimit: 1_000_000},
		Storage:  StorageConfig{Driver: "memory"},
		Logging:  LoggingConfig{Level: LevelInfo, Format: "json"},
	}
}
