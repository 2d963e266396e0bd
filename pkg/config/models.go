package config

import "time"

type Config struct {
	Socket    SocketConfig
	API       APIConfig
	Transport TransportConfig
	Log       LogConfig
}

type SocketConfig struct {
	// Base URL of the push server, e.g. http://localhost:5000.
	URL string `mapstructure:"url"`
}

type APIConfig struct {
	// Base URL of the REST collaborator, e.g. http://localhost:5000/api.
	BaseURL string `mapstructure:"baseURL"`
}

type TransportConfig struct {
	ReconnectAttempts int           `mapstructure:"reconnectAttempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnectDelay"`
	ReadTimeout       time.Duration `mapstructure:"readTimeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}
