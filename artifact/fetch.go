package artifact

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
)

// Fetch downloads the .tar.gz archive at key from store and unpacks it into destDir.
// It returns the model directory: the archive's single top-level directory if it
// has one, else destDir.
func Fetch(ctx context.Context, store BlobStore, key, destDir string) (string, error) {
	var r io.ReadCloser
	if o, ok := store.(Opener); ok {
		rc, err := o.Open(ctx, key)
		if err != nil {
			return "", fmt.Errorf("artifact: fetch %s: %w", key, err)
		}
		r = rc
	} else {
		b, err := store.Get(ctx, key)
		if err != nil {
			return "", fmt.Errorf("artifact: fetch %s: %w", key, err)
		}
		r = io.NopCloser(bytes.NewReader(b))
	}
	defer r.Close()

	n, top, err := Unpack(r, destDir)
	if err != nil {
		return "", err
	}
	dir := destDir
	if top != "" {
		dir = filepath.Join(destDir, top)
	}
	logr.FromContextOrDiscard(ctx).Info("fetched model artifact", "key", key, "files", n, "dir", dir)
	return dir, nil
}

// Unpack extracts a gzip-compressed tar stream into destDir. It returns the number
// of regular files written and the archive's single top-level directory ("" when
// entries sit at the root or under several directories).
func Unpack(r io.Reader, destDir string) (int, string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, "", fmt.Errorf("artifact: gzip: %w", err)
	}
	defer gz.Close()
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, "", fmt.Errorf("artifact: %w", err)
	}

	tr := tar.NewReader(gz)
	files := 0
	tops := map[string]bool{}
	rootFile := false
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return files, "", fmt.Errorf("artifact: tar: %w", err)
		}
		name := strings.TrimPrefix(filepath.ToSlash(hdr.Name), "./")
		if name == "" || name == "." {
			continue
		}
		target := filepath.Join(destDir, filepath.FromSlash(name))
		if filepath.IsAbs(hdr.Name) || !within(destDir, target) {
			return files, "", fmt.Errorf("%w: %q", ErrUnsafePath, hdr.Name)
		}
		first, rest, nested := strings.Cut(strings.TrimSuffix(name, "/"), "/")
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, "", fmt.Errorf("artifact: %w", err)
			}
			tops[first] = true
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return files, "", err
			}
			files++
			if nested && rest != "" {
				tops[first] = true
			} else {
				rootFile = true
			}
		case tar.TypeSymlink, tar.TypeLink:
			return files, "", fmt.Errorf("%w: link %q", ErrUnsafePath, hdr.Name)
		default:
			// other entry types (pax headers, devices) are skipped
		}
	}
	if len(tops) == 1 && !rootFile {
		for t := range tops {
			return files, t, nil
		}
	}
	return files, "", nil
}

func writeFile(target string, r io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("artifact: write %s: %w", target, err)
	}
	return f.Close()
}

// Pack writes the regular files under dir as a gzip-compressed tar archive with
// paths relative to dir.
func Pack(dir string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir || !(d.IsDir() || d.Type().IsRegular()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("artifact: pack %s: %w", dir, err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("artifact: pack %s: %w", dir, err)
	}
	return gz.Close()
}
