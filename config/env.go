package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes the environment variables that override the files.
const EnvPrefix = "FIRMHOOK_"

// ApplyEnv overrides settings from .env files and from the process
// environment. The process environment wins over the files. Missing .env
// files are skipped.
func (c *Config) ApplyEnv(envFiles ...string) error {
	vars := make(map[string]string)

	for _, f := range envFiles {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}

		m, err := godotenv.Read(f)
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}

		for k, v := range m {
			vars[k] = v
		}
	}

	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, EnvPrefix) {
			vars[k] = v
		}
	}

	return c.applyVars(vars)
}

func (c *Config) applyVars(vars map[string]string) error {
	for k, v := range vars {
		var err error

		switch strings.TrimPrefix(k, EnvPrefix) {
		case "ARCH":
			c.Machine.Arch = v
		case "GDB":
			c.Machine.GDB = v
		case "RX_PORT":
			c.Bus.RxPort, err = strconv.Atoi(v)
		case "TX_PORT":
			c.Bus.TxPort, err = strconv.Atoi(v)
		case "LOG_LEVEL":
			c.LogLevel = v
		case "RECORD":
			c.Record.Path = v
		case "TRACE":
			c.Record.Trace, err = strconv.ParseBool(v)
		case "MONITOR_PORT":
			c.Monitor.Port, err = strconv.Atoi(v)
			c.Monitor.Enabled = err == nil
		}

		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}

	return nil
}
