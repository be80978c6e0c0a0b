// Package config handles loading and validating SSCM configuration.
//
// One YAML file serves both binaries. The relay (cmd/sscmrelay) validates
// the whole file with Load; the kiosk client (cmd/sscmkiosk) validates only
// the kiosk section with LoadKiosk.
//
// Loading order:
//  1. Hardcoded defaults
//  2. YAML file values
//  3. SSCM_* environment variables
//
// Security Considerations:
//   - Secrets (JWT secret, MQTT password, InfluxDB token) should come from the environment
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/sscm.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config
