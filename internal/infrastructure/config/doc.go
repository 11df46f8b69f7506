// Package config loads and validates the Starport configuration.
//
// Values are resolved in order: built-in defaults, the YAML file, then
// STARPORT_* environment variables. Secrets (MQTT password, InfluxDB token,
// JWT secret) are best supplied through the environment.
//
// Usage:
//
//	cfg, err := config.Load(config.ResolvePath(flagPath))
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.INDI.Address())
package config
