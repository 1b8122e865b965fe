package docserver

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/arothfield/docsite-web/internal/content"
	"github.com/arothfield/docsite-web/internal/log"
)

var ErrInvalidOptions = errors.New("docserver: invalid options")

type SnapshotProvider interface {
	Get() (*content.Snapshot, bool)
}

type Options struct {
	Logger log.Logger
	// Active doc content
	Content SnapshotProvider
	// fallback FS (maintenance page, fallback error pages)
	FallbackFS fs.FS

	// file names inside the FS roots (relative path)
	// - MaintenanceFile, Fallback404File and Fallback403File are read from FallbackFS
	// - Doc404File and Doc403File are read per locale from the active snapshot FS
	//   ("<locale>/<name>")
	MaintenanceFile string // default: "maintenance.html"
	Fallback404File string // default: "404.html"
	Fallback403File string // default: "403.html"
	Doc404File      string // default: "404.html"
	Doc403File      string // default: "403.html"

	// Cache policies applied by file extension.
	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=31536000, immutable"
	OtherCacheControl string // default: "public, max-age=3600"
}

func (o *Options) setDefaults() {
	if o.MaintenanceFile == "" {
		o.MaintenanceFile = "maintenance.html"
	}
	if o.Fallback404File == "" {
		o.Fallback404File = "404.html"
	}
	if o.Fallback403File == "" {
		o.Fallback403File = "403.html"
	}
	if o.Doc404File == "" {
		o.Doc404File = "404.html"
	}
	if o.Doc403File == "" {
		o.Doc403File = "403.html"
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=31536000, immutable"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
}

func (o *Options) validate() error {
	if o.Content == nil {
		return fmt.Errorf("%w: Content is nil", ErrInvalidOptions)
	}
	if o.FallbackFS == nil {
		return fmt.Errorf("%w: FallbackFS is nil", ErrInvalidOptions)
	}
	// Ensure maintenance exists (fail fast on boot if mispackaged).
	if _, err := fs.Stat(o.FallbackFS, o.MaintenanceFile); err != nil {
		return fmt.Errorf("%w: missing %q in fallback FS: %v", ErrInvalidOptions, o.MaintenanceFile, err)
	}
	// Fallback error pages are optional; we degrade to plain text if missing.
	return nil
}
