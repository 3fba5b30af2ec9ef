// ABOUTME: Backup manifest encoding
// ABOUTME: Deterministic protobuf Struct compressed with zstd, never content values

package backup

import (
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Manifest is what a backup blob holds: enough to find and verify the
// referenced version, nothing more
type Manifest struct {
	BackupID       string
	ContentID      string
	VersionID      string
	CommitHash     string
	Type           Type
	CreatedAt      time.Time
	RetentionUntil time.Time
}

func manifestOf(r *Record) Manifest {
	return Manifest{
		BackupID:       r.ID,
		ContentID:      r.ContentID,
		VersionID:      r.VersionSnapshot,
		CommitHash:     r.CommitHash,
		Type:           r.Type,
		CreatedAt:      r.CreatedAt,
		RetentionUntil: r.RetentionUntil,
	}
}

// EncodeManifest serializes m deterministically and compresses it
func EncodeManifest(m Manifest) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"backup_id":       m.BackupID,
		"content_id":      m.ContentID,
		"version_id":      m.VersionID,
		"commit_hash":     m.CommitHash,
		"backup_type":     string(m.Type),
		"created_at":      m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"retention_until": m.RetentionUntil.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}
	raw, err := proto.MarshalOptions{Deterministic: true}.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// DecodeManifest reverses EncodeManifest
func DecodeManifest(data []byte) (Manifest, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: decompress: %v", ErrManifestMismatch, err)
	}

	var s structpb.Struct
	if err := proto.Unmarshal(raw, &s); err != nil {
		return Manifest{}, fmt.Errorf("%w: unmarshal: %v", ErrManifestMismatch, err)
	}
	field := func(name string) string {
		return s.GetFields()[name].GetStringValue()
	}

	m := Manifest{
		BackupID:   field("backup_id"),
		ContentID:  field("content_id"),
		VersionID:  field("version_id"),
		CommitHash: field("commit_hash"),
		Type:       Type(field("backup_type")),
	}
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, field("created_at")); err != nil {
		return Manifest{}, fmt.Errorf("%w: created_at: %v", ErrManifestMismatch, err)
	}
	if m.RetentionUntil, err = time.Parse(time.RFC3339Nano, field("retention_until")); err != nil {
		return Manifest{}, fmt.Errorf("%w: retention_until: %v", ErrManifestMismatch, err)
	}
	return m, nil
}

// verify checks that m describes r
func (m Manifest) verify(r *Record) error {
	if m.BackupID != r.ID || m.ContentID != r.ContentID || m.VersionID != r.VersionSnapshot || m.CommitHash != r.CommitHash {
		return fmt.Errorf("%w: blob %s describes backup %s of version %s", ErrManifestMismatch, r.Path, m.BackupID, m.VersionID)
	}
	return nil
}
