// Package config loads the service settings (server, database, Redis, queues,
// post-processing, sweeper, storage, backends and tiling) from defaults, an
// optional YAML file and IMAGERY_-prefixed environment variables, and
// validates them before any component is built.
package config
