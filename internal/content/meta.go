package content

import (
	"encoding/json"
	"io/fs"
	"time"

	"github.com/arothfield/docsite-web/internal/xerrors"
)

type Source string

const (
	SourceUnknown Source = "unknown"
	SourceSeed    Source = "seed"
	SourceDisk    Source = "disk"
	SourceS3      Source = "s3"
)

type Meta struct {
	Version    string    `json:"version,omitempty"`
	SHA256     string    `json:"sha256,omitempty"`
	BuiltAt    time.Time `json:"built_at,omitempty"`
	VerifiedAt time.Time `json:"verified_at,omitempty"`
	Source     Source    `json:"source,omitempty"`
}

// MetaFilePath is the optional bundle manifest at the bundle root. It carries
// the publisher-assigned version and build time; integrity comes from the
// SSM hash and KMS signature, not from this file.
const MetaFilePath = "bundle.json"

// LoadMeta reads and parses bundle.json from a bundle filesystem.
func LoadMeta(fsys fs.FS) (*Meta, error) {
	data, err := fs.ReadFile(fsys, MetaFilePath)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", MetaFilePath)
	}

	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, xerrors.Wrapf(err, "parse %s", MetaFilePath)
	}
	return &m, nil
}
