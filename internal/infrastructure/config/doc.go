// Package config handles loading and validating Gray Logic Access configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (GRAYLOGIC_*)
//   - Validation of required fields and security bounds
//   - Default value handling
//
// Security Considerations:
//   - Broker and InfluxDB credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Lockout and timing bounds are validated so a typo cannot disable
//     brute-force protection
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Security.Lockout.Threshold)
package config
