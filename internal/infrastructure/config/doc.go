// Package config handles loading and validating devicesync configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (DEVICESYNC_SECTION_KEY)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//     or a .env file next to the binary, never committed to config.yaml
//   - The config file should have restricted permissions (0600)
//   - The JWT secret must be changed from defaults before production use
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Client.ID)
package config
