// Package config handles loading and validating fleet sync configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Vendor API tokens and broker passwords should be set via environment
//     variables (FLEETSYNC_<CODE>_TOKEN, FLEETSYNC_MQTT_PASSWORD)
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, m := range cfg.ActiveManufacturers() {
//	    fmt.Println(m.Code)
//	}
package config
