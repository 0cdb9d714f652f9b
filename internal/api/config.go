package api

import "time"

type Config struct {
	HTTPAddr        string        `envconfig:"WCO_HTTP_ADDR" default:"0.0.0.0:8080"`
	DBDSN           string        `envconfig:"WCO_DB_DSN" required:"true"`
	MetricsAddr     string        `envconfig:"WCO_METRICS_ADDR" default:"0.0.0.0:9090"`
	LogLevel        string        `envconfig:"WCO_LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"WCO_SHUTDOWN_TIMEOUT" default:"30s"`
}
