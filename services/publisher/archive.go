package publisher

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

const (
	manifestFileName  = "manifest.yaml"
	entriesTarPrefix  = "entries"
	archiveObjectRoot = "artifacts"
)

// ArchiveUploader stores a finished archive remotely.
type ArchiveUploader interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, sha256 string) error
}

// ArchiveConfig enables a local tar.zst copy of the submitted artifact.
type ArchiveConfig struct {
	Path string
	// Key signs the manifest when it can; nil leaves the archive unsigned.
	Key *ManifestKey
	// Uploader and Bucket are optional; both are required to mirror the archive.
	Uploader ArchiveUploader
	Bucket   string
}

// ArchiveResult describes a written archive.
type ArchiveResult struct {
	Path     string
	SHA256   string
	Size     int64
	Location string
}

// NewManifest describes entries for the given artifact metadata.
func NewManifest(meta Metadata, entries []Entry, now time.Time) *Manifest {
	m := &Manifest{
		Format:          manifestFormat,
		CreatedAt:       now.UTC().Truncate(time.Second),
		ProjectID:       meta.ProjectID,
		VersionName:     meta.VersionName,
		EnvironmentName: meta.EnvironmentName,
		CommitHash:      meta.CommitHash,
		Branch:          meta.Branch,
	}
	for _, e := range entries {
		sum := sha256.Sum256(e.Content)
		m.Entries = append(m.Entries, ManifestEntry{
			Key:         e.Key,
			Kind:        inferKind(e.Key),
			ContentType: e.ContentType,
			Size:        int64(len(e.Content)),
			SHA256:      hex.EncodeToString(sum[:]),
		})
	}
	return m
}

// WriteArchive signs the manifest when cfg.Key can sign and writes the
// archive to cfg.Path. Nothing leaves the machine; see UploadArchive.
func WriteArchive(ctx context.Context, cfg ArchiveConfig, m *Manifest, entries []Entry) (*ArchiveResult, error) {
	if cfg.Path == "" {
		return nil, errors.New("archive path is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Key.CanSign() {
		if err := m.Sign(cfg.Key); err != nil {
			return nil, fmt.Errorf("sign manifest: %w", err)
		}
	}
	manifestBytes, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}
	if err := writeTarZst(cfg.Path, manifestBytes, entries, m.CreatedAt); err != nil {
		return nil, err
	}
	return hashFile(cfg.Path)
}

// UploadArchive mirrors a written archive to artifacts/<project>/<version>.tar.zst
// and records its location. It does nothing unless both an uploader and a
// bucket are configured.
func UploadArchive(ctx context.Context, cfg ArchiveConfig, m *Manifest, res *ArchiveResult) error {
	if cfg.Uploader == nil || cfg.Bucket == "" {
		return nil
	}
	key := path.Join(archiveObjectRoot, m.ProjectID, m.VersionName+".tar.zst")
	file, err := os.Open(res.Path)
	if err != nil {
		return fmt.Errorf("open archive for upload: %w", err)
	}
	defer file.Close()
	if err := cfg.Uploader.PutObject(ctx, cfg.Bucket, key, file, res.Size, res.SHA256); err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}
	res.Location = fmt.Sprintf("s3://%s/%s", cfg.Bucket, key)
	return nil
}

func writeTarZst(output string, manifest []byte, entries []Entry, modTime time.Time) error {
	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer file.Close()

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	tw := tar.NewWriter(encoder)

	write := func(name string, data []byte) error {
		header := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  modTime,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write header for %q: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("write %q: %w", name, err)
		}
		return nil
	}

	if err := write(manifestFileName, manifest); err != nil {
		return err
	}
	for _, e := range entries {
		if err := write(entryTarName(e.Key), e.Content); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	return file.Close()
}

func entryTarName(key string) string {
	return entriesTarPrefix + "/" + strings.TrimPrefix(path.Clean("/"+key), "/")
}

func hashFile(p string) (*ArchiveResult, error) {
	file, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", p, err)
	}
	defer file.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return nil, fmt.Errorf("hash %q: %w", p, err)
	}
	return &ArchiveResult{Path: p, SHA256: hex.EncodeToString(hash.Sum(nil)), Size: size}, nil
}

// VerifyArchive reads an archive, checks the manifest signature against
// trusted (see Manifest.VerifySignature) and checks every entry against its
// recorded size and digest.
func VerifyArchive(ctx context.Context, archivePath string, trusted *ManifestKey) (*Manifest, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	var (
		manifestBytes []byte
		contents      = map[string][]byte{}
	)
	tr := tar.NewReader(decoder)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", header.Name, err)
		}
		if header.Name == manifestFileName {
			manifestBytes = data
			continue
		}
		contents[header.Name] = data
	}

	if len(manifestBytes) == 0 {
		return nil, fmt.Errorf("archive missing %s", manifestFileName)
	}
	var m Manifest
	if err := yaml.Unmarshal(manifestBytes, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if m.Format != manifestFormat {
		return nil, fmt.Errorf("unsupported manifest format %q", m.Format)
	}

	if err := m.VerifySignature(trusted); err != nil {
		return nil, fmt.Errorf("verify manifest: %w", err)
	}

	for _, e := range m.Entries {
		data, ok := contents[entryTarName(e.Key)]
		if !ok {
			return nil, fmt.Errorf("entry %q missing from archive", e.Key)
		}
		if int64(len(data)) != e.Size {
			return nil, fmt.Errorf("size mismatch for %q: expected %d got %d", e.Key, e.Size, len(data))
		}
		sum := sha256.Sum256(data)
		if !strings.EqualFold(hex.EncodeToString(sum[:]), e.SHA256) {
			return nil, fmt.Errorf("sha256 mismatch for %q", e.Key)
		}
	}
	return &m, nil
}
