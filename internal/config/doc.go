// Package config handles configuration loading, parsing, and validation
// from environment variables (RENDER_ prefix), an optional config.yaml and a
// local .env file. It provides type-safe access to the server, database,
// generation gateway, artifact storage and scheduler settings.
package config
