// Package config handles YAML configuration loading with environment
// variable substitution.
//
// Configuration files support ${VAR} syntax so secrets like the bearer
// token never live in the file itself.
package config
