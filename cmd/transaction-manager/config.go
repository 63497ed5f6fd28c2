package main

import (
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/skalenetwork/transaction-manager/internal"
)

const (
	defaultLogLevel  = "info"
	defaultLogOutput = "stdout"

	// Fee policy values accepted by --fee-policy / FEE_POLICY.
	feePolicyAuto = "auto"
	feePolicyV1   = "v1"
	feePolicyV2   = "v2"
)

// Version is the build version, set at build time with -ldflags
var Version = internal.Version

// bootConfig holds the process-level options that are not part of the
// service environment: logging and the fee policy override.
type bootConfig struct {
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogOutput string `mapstructure:"LOG_OUTPUT"`
	FeePolicy string `mapstructure:"FEE_POLICY"`
}

// loadBootConfig reads the boot options from flags and environment
// variables, flags taking precedence.
func loadBootConfig() (*bootConfig, error) {
	v := viper.New()
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("LOG_OUTPUT", defaultLogOutput)
	v.SetDefault("FEE_POLICY", feePolicyAuto)

	flag.StringP("log-level", "l", defaultLogLevel, "log level (debug, info, warn, error)")
	flag.StringP("log-output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flag.String("fee-policy", feePolicyAuto,
		"fee pricing policy: auto (detect EIP-1559 support), v1 (legacy gas price), v2 (tip/cap)")
	flag.Parse()

	if err := v.BindPFlag("LOG_LEVEL", flag.Lookup("log-level")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("LOG_OUTPUT", flag.Lookup("log-output")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("FEE_POLICY", flag.Lookup("fee-policy")); err != nil {
		return nil, err
	}
	v.AutomaticEnv()

	boot := &bootConfig{}
	if err := v.Unmarshal(boot); err != nil {
		return nil, err
	}
	return boot, nil
}
