// Package objectstore adapts an S3-compatible bucket (via minio-go) to the
// quicklook.ObjectStore interface. It is a thin external collaborator: the
// core pipeline never imports the minio SDK directly.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/skyquick/quicklook/internal/quicklook"
)

// rootPrefix is the object-store namespace root for all quicklook artifacts.
const rootPrefix = "quicklook"

// Config holds the S3-compatible endpoint and credentials needed to open a
// Store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// Store implements quicklook.ObjectStore against one bucket of an
// S3-compatible object store.
type Store struct {
	client *minio.Client
	bucket string
}

// New constructs a Store backed by minio-go's S3-compatible client.
func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: new minio client: %w", quicklook.ErrObjectStoreError, err)
	}

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func visitPrefix(visit quicklook.Visit) string {
	return fmt.Sprintf("%s/%s/", rootPrefix, string(visit))
}

func (s *Store) put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %w", quicklook.ErrObjectStoreError, key, err)
	}

	return nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", quicklook.ErrObjectStoreError, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", quicklook.ErrObjectStoreError, key, err)
	}

	return data, nil
}

// PutMeta stores the aggregate per-CCD metadata produced by generate.
func (s *Store) PutMeta(ctx context.Context, visit quicklook.Visit, data []byte) error {
	return s.put(ctx, visitPrefix(visit)+"meta", data)
}

// PutJobConfig stores the frozen ccdGeneratorMap needed for late tile reads.
func (s *Store) PutJobConfig(ctx context.Context, visit quicklook.Visit, data []byte) error {
	return s.put(ctx, visitPrefix(visit)+"job-config", data)
}

// PutSnapshot stores job's final/intermediate snapshot.
func (s *Store) PutSnapshot(ctx context.Context, visit quicklook.Visit, snapshot quicklook.JobSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	return s.put(ctx, visitPrefix(visit)+"job", data)
}

// GetSnapshot loads a previously stored snapshot.
func (s *Store) GetSnapshot(ctx context.Context, visit quicklook.Visit) (quicklook.JobSnapshot, error) {
	data, err := s.get(ctx, visitPrefix(visit)+"job")
	if err != nil {
		return quicklook.JobSnapshot{}, err
	}

	var snap quicklook.JobSnapshot

	if unmarshalErr := json.Unmarshal(data, &snap); unmarshalErr != nil {
		return quicklook.JobSnapshot{}, fmt.Errorf("unmarshal snapshot: %w", unmarshalErr)
	}

	return snap, nil
}

func packedTileKey(visit quicklook.Visit, packed quicklook.PackedTileId) string {
	return fmt.Sprintf("%spacked-tile/%d/%d/%d.list", visitPrefix(visit), packed.Level, packed.I, packed.J)
}

// PutPackedTile uploads the assembled list-of-blobs for one packed tile
// block, encoding it as a concatenation of blobs, each preceded by its
// decimal byte length and a newline (a null blob is encoded as the line
// "NULL\n", matching the 404-as-null convention used for missing peer
// tiles).
func (s *Store) PutPackedTile(ctx context.Context, visit quicklook.Visit, packed quicklook.PackedTileId, blobs [][]byte) error {
	var buf bytes.Buffer

	for _, blob := range blobs {
		if blob == nil {
			buf.WriteString("NULL\n")

			continue
		}

		buf.WriteString(strconv.Itoa(len(blob)))
		buf.WriteByte('\n')
		buf.Write(blob)
	}

	return s.put(ctx, packedTileKey(visit, packed), buf.Bytes())
}

// GetPackedTile reads back a packed tile block's blobs.
func (s *Store) GetPackedTile(ctx context.Context, visit quicklook.Visit, packed quicklook.PackedTileId) ([][]byte, error) {
	data, err := s.get(ctx, packedTileKey(visit, packed))
	if err != nil {
		return nil, err
	}

	var blobs [][]byte

	for len(data) > 0 {
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			break
		}

		header := string(data[:nl])
		data = data[nl+1:]

		if header == "NULL" {
			blobs = append(blobs, nil)

			continue
		}

		n, convErr := strconv.Atoi(header)
		if convErr != nil || n > len(data) {
			return nil, fmt.Errorf("%w: corrupt packed tile block", quicklook.ErrObjectStoreError)
		}

		blobs = append(blobs, data[:n])
		data = data[n:]
	}

	return blobs, nil
}

// DeletePrefix removes every object under quicklook/{visit}/.
func (s *Store) DeletePrefix(ctx context.Context, visit quicklook.Visit) error {
	return s.deleteByPrefix(ctx, visitPrefix(visit))
}

// DeleteAllPrefixes wipes every object under the quicklook/ prefix.
func (s *Store) DeleteAllPrefixes(ctx context.Context) error {
	return s.deleteByPrefix(ctx, rootPrefix+"/")
}

func (s *Store) deleteByPrefix(ctx context.Context, prefix string) error {
	objectsCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})

	for obj := range objectsCh {
		if obj.Err != nil {
			return fmt.Errorf("%w: list %s: %w", quicklook.ErrObjectStoreError, prefix, obj.Err)
		}

		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("%w: remove %s: %w", quicklook.ErrObjectStoreError, obj.Key, err)
		}
	}

	return nil
}

// ListVisitPrefixes enumerates every visit with at least one object, for
// the housekeeper's dangling-prefix sweep.
func (s *Store) ListVisitPrefixes(ctx context.Context) ([]quicklook.Visit, error) {
	objectsCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    rootPrefix + "/",
		Recursive: false,
	})

	seen := make(map[quicklook.Visit]struct{})

	var out []quicklook.Visit

	for obj := range objectsCh {
		if obj.Err != nil {
			return nil, fmt.Errorf("%w: list prefixes: %w", quicklook.ErrObjectStoreError, obj.Err)
		}

		rest := strings.TrimPrefix(obj.Key, rootPrefix+"/")
		visit := quicklook.Visit(strings.TrimSuffix(rest, "/"))

		if _, ok := seen[visit]; ok {
			continue
		}

		seen[visit] = struct{}{}

		out = append(out, visit)
	}

	return out, nil
}
