package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is a portable dump of the ledger, enough to locate every part of
// every file without the database.
type Manifest struct {
	ExportedAt time.Time      `yaml:"exported_at"`
	Files      []FileManifest `yaml:"files"`
}

// FileManifest pairs a file record with its parts.
type FileManifest struct {
	FileRecord `yaml:",inline"`
	Parts      []PartRecord `yaml:"parts"`
}

// Export collects every file and its parts from the ledger.
func Export(ctx context.Context, ledger Ledger) (Manifest, error) {
	files, err := ledger.ListFiles(ctx)
	if err != nil {
		return Manifest{}, err
	}

	manifest := Manifest{ExportedAt: time.Now().UTC()}
	for _, file := range files {
		parts, err := ledger.ListParts(ctx, file.ID)
		if err != nil {
			return Manifest{}, fmt.Errorf("failed to list parts of %s: %w", file.ID, err)
		}
		manifest.Files = append(manifest.Files, FileManifest{FileRecord: file, Parts: parts})
	}
	return manifest, nil
}

// WriteYAML encodes the manifest as YAML.
func (m Manifest) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return enc.Close()
}

// ReadManifest decodes a manifest written by WriteYAML.
func ReadManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return m, nil
}

// Import writes every record of a manifest into the ledger, skipping files
// that already exist.
func Import(ctx context.Context, ledger Ledger, m Manifest) (int, error) {
	imported := 0
	for _, file := range m.Files {
		if err := ledger.CreateFile(ctx, file.FileRecord); err != nil {
			if errors.Is(err, ErrExists) {
				continue
			}
			return imported, err
		}
		for _, part := range file.Parts {
			part.FileID = file.ID
			if err := ledger.PutPart(ctx, part); err != nil {
				return imported, err
			}
		}
		imported++
	}
	return imported, nil
}
