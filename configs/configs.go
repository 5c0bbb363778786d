// Package configs embeds build assets used by the Docker deployment
// backend when it is configured with a standalone runtime interpreter
// directory.
package configs

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
)

// BaseDockerfile is the layered Dockerfile used to bake a standalone
// runtime interpreter plus the swerex-remote executable onto a user's
// base image, when a standalone-interpreter directory is configured.
// Content-based tagging (BaseDockerfileHash) means the derived image is
// rebuilt whenever this template changes, without needing a version bump.
//
//go:embed base.Dockerfile
var BaseDockerfile []byte

// BaseDockerfileHash returns a 12-character hash of the embedded
// Dockerfile, used as part of the derived image's tag so a cached layer
// is reused across deployments that share the same template.
func BaseDockerfileHash() string {
	hash := sha256.Sum256(BaseDockerfile)
	return hex.EncodeToString(hash[:])[:12]
}
