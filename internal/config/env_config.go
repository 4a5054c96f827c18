package config

type EnvConfig interface {
	GetEnv() string
	GetAppName() string
	GetMetricsEnabled() bool
	GetMetricsAddr() string
}

type metricsValues struct {
	Enabled bool
	Addr    string
}

var _ EnvConfig = mainConfig{}

func (c mainConfig) GetEnv() string {
	if c.v.Env == "" {
		return "DEV"
	}
	return c.v.Env
}

func (c mainConfig) GetAppName() string {
	return c.v.AppName
}

func (c mainConfig) GetMetricsEnabled() bool {
	return c.v.Metrics.Enabled
}

// GetMetricsAddr is the listen address of the /metrics endpoint served by long-running commands.
func (c mainConfig) GetMetricsAddr() string {
	return c.v.Metrics.Addr
}
