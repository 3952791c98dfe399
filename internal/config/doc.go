// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// An optional .env file is read first so local runs can keep secrets out of the YAML.
package config
