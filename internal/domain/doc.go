// Package domain contains the core business entities of the image generation
// pipeline: tasks and their status machine, model configurations and the
// generation history paired with completed tasks. It is independent of any
// specific infrastructure or delivery mechanism.
package domain
