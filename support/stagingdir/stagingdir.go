// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package stagingdir builds output files in a private temporary directory and
// moves them into place once they are complete.
//
// A trace file that is still being written, or whose writer failed, is never
// visible at its destination path.
package stagingdir

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// D manages a staging directory.
//
// While D is active, it resides in a temporary location. Once finished, a file
// within D can be committed, atomically moving it to its destination, and D
// can be destroyed along with all of its remaining contents.
type D struct {
	// tempDir is the temporary directory to use for staging.
	tempDir string

	// path is the path of the staging directory.
	path string
}

// New creates a new staging directory underneath of tempDir.
//
// The directory will be created with the specified prefix. If tempDir is
// empty, the system temporary directory is used.
func New(tempDir, prefix string) (*D, error) {
	stagingPath, err := ioutil.TempDir(tempDir, prefix)
	if err != nil {
		return nil, err
	}

	return &D{
		tempDir: tempDir,
		path:    stagingPath,
	}, nil
}

// Path builds a path relative to the staging directory from the provided
// components.
func (sd *D) Path(first string, components ...string) string {
	if sd.path == "" {
		panic("staging directory has been destroyed")
	}

	if len(components) == 0 {
		return filepath.Join(sd.path, first)
	}

	comps := make([]string, 0, 2+len(components))
	comps = append(comps, sd.path, first)
	return filepath.Join(append(comps, components...)...)
}

// Destroy purges the staging directory and its contents.
func (sd *D) Destroy() error {
	if sd.path == "" {
		return nil
	}

	if err := os.RemoveAll(sd.path); err != nil {
		return err
	}

	sd.path = ""
	return nil
}

// CommitFile atomically moves the staged file name to dest, replacing any file
// that already exists there.
//
// The staging directory and its remaining contents are left in place; the
// caller should still Destroy it.
func (sd *D) CommitFile(name, dest string) error {
	if sd.path == "" {
		return errors.New("invalid staging directory")
	}

	src := sd.Path(name)
	if err := os.Rename(src, dest); err != nil {
		// Renames across devices fail. Stage a copy next to dest and rename
		// that instead, so dest is never observed half-written.
		if copyErr := copyIntoPlace(src, dest); copyErr != nil {
			return errors.Wrapf(err, "moving staged file into place (%q => %q): copy fallback: %s",
				src, dest, copyErr)
		}
	}
	return nil
}

func copyIntoPlace(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := ioutil.TempFile(filepath.Dir(dest), "."+filepath.Base(dest)+".")
	if err != nil {
		return err
	}
	tmpName := out.Name()
	defer func() {
		if out != nil {
			_ = out.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := out.ReadFrom(in); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	out = nil

	return os.Rename(tmpName, dest)
}
