package content

import (
	"io/fs"

	"github.com/arothfield/docsite-web/internal/l10n"
	"github.com/arothfield/docsite-web/internal/xerrors"
)

// ValidationOptions controls what ValidateSnapshot demands of a bundle.
// The zero value only requires the default locale's index page.
type ValidationOptions struct {
	// MinFiles rejects bundles with fewer files. 0 disables the check.
	MinFiles int

	// RequireLocales lists locales whose index page must exist. Empty
	// means just the default locale.
	RequireLocales []string
}

// DefaultValidationOptions is what the watcher runs in production. Ten
// files is low enough to pass any real bundle and high enough to catch a
// truncated extract.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MinFiles:       10,
		RequireLocales: []string{l10n.DefaultLocale},
	}
}

// ValidateSnapshot sanity-checks a doc bundle before the watcher swaps it
// into the active Manager. A bundle that fails here keeps the previous
// snapshot serving.
func ValidateSnapshot(snap *Snapshot, opts ValidationOptions) error {
	if snap == nil {
		return xerrors.New("validate: snapshot is nil")
	}
	if snap.FS == nil {
		return xerrors.New("validate: snapshot has nil filesystem")
	}

	locales := opts.RequireLocales
	if len(locales) == 0 {
		locales = []string{l10n.DefaultLocale}
	}
	for _, loc := range locales {
		if err := checkIndexHTML(snap.FS, loc+"/index.html"); err != nil {
			return err
		}
	}

	if opts.MinFiles > 0 {
		count, err := countFiles(snap.FS)
		if err != nil {
			return xerrors.Wrap(err, "validate: counting files")
		}
		if count < opts.MinFiles {
			return xerrors.Newf("validate: bundle has %d files, minimum is %d", count, opts.MinFiles)
		}
	}
	return nil
}

// checkIndexHTML requires the named index page to exist with content. An
// empty index means the renderer produced nothing for that locale.
func checkIndexHTML(fsys fs.FS, name string) error {
	f, err := fsys.Open(name)
	if err != nil {
		return xerrors.Wrapf(err, "validate: %s not found", name)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return xerrors.Wrapf(err, "validate: cannot stat %s", name)
	}
	if info.Size() == 0 {
		return xerrors.Newf("validate: %s is empty", name)
	}
	return nil
}

// countFiles counts regular files in the bundle, directories excluded.
func countFiles(fsys fs.FS) (int, error) {
	count := 0
	err := fs.WalkDir(fsys, ".", func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	return count, err
}
