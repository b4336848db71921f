package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Outputs names the files written by Flush. Empty paths are skipped.
type Outputs struct {
	Report     string
	CSV        string
	Exclusions string
}

// Flush writes the current report, CSV and exclusion list. Every file is
// replaced atomically, so readers never observe a partial report.
func (a *Aggregator) Flush(out Outputs) error {
	rep := a.Report()

	if out.Report != "" {
		data, err := MarshalReport(rep)
		if err != nil {
			return err
		}
		if err := WriteFileAtomic(out.Report, data); err != nil {
			return err
		}
	}
	if out.CSV != "" {
		var buf bytes.Buffer
		if err := WriteCSV(&buf, rep); err != nil {
			return err
		}
		if err := WriteFileAtomic(out.CSV, buf.Bytes()); err != nil {
			return err
		}
	}
	if out.Exclusions != "" {
		exclusions := a.Exclusions()
		if len(exclusions) == 0 {
			return nil
		}
		var buf bytes.Buffer
		if err := WriteExclusions(&buf, exclusions); err != nil {
			return err
		}
		if err := WriteFileAtomic(out.Exclusions, buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// WriteFileAtomic writes data to a temporary file in the target directory,
// syncs it and renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(name)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
