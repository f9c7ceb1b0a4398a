// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// DefaultExtensions are the document types indexed by default.
var DefaultExtensions = []string{".txt", ".md"}

// Document is one reference document before chunking.
type Document struct {
	Source  string
	Content string
}

// Source lists the documents to index.
type Source interface {
	Documents(ctx context.Context) ([]Document, error)
}

func hasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// =============================================================================
// Directory source
// =============================================================================

// DirSource reads documents from a local directory tree.
type DirSource struct {
	Root       string
	Extensions []string
}

// NewDirSource creates a DirSource for the default extensions.
func NewDirSource(root string) *DirSource {
	return &DirSource{Root: root, Extensions: DefaultExtensions}
}

// Documents walks Root and returns every matching, non-empty file. Sources
// are paths relative to Root with forward slashes, in lexical order.
func (d *DirSource) Documents(ctx context.Context) ([]Document, error) {
	exts := d.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	info, err := os.Stat(d.Root)
	if err != nil {
		return nil, fmt.Errorf("knowledge directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("knowledge directory %s is not a directory", d.Root)
	}

	var docs []Document
	err = filepath.WalkDir(d.Root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			if p != d.Root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !hasExtension(p, exts) {
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			return nil
		}
		rel, err := filepath.Rel(d.Root, p)
		if err != nil {
			rel = p
		}
		docs = append(docs, Document{Source: filepath.ToSlash(rel), Content: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Source < docs[j].Source })
	return docs, nil
}

// =============================================================================
// GCS source
// =============================================================================

// GCSSource reads documents stored under a bucket prefix.
type GCSSource struct {
	client     *storage.Client
	bucket     string
	prefix     string
	extensions []string
}

// NewGCSSource opens a GCS client. Credentials come from the environment
// unless opts supply them.
//
// # Inputs
//
//   - ctx: Context for client creation.
//   - bucket: Bucket name.
//   - prefix: Object name prefix; empty indexes the whole bucket.
//   - opts: Extra client options (credentials file, endpoint).
//
// # Outputs
//
//   - *GCSSource: The source. Call Close when done.
//   - error: Non-nil if bucket is empty or the client cannot be created.
func NewGCSSource(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSSource, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSSource{client: client, bucket: bucket, prefix: prefix, extensions: DefaultExtensions}, nil
}

// Documents downloads every matching object under the prefix.
func (g *GCSSource) Documents(ctx context.Context) ([]Document, error) {
	bkt := g.client.Bucket(g.bucket)
	it := bkt.Objects(ctx, &storage.Query{Prefix: g.prefix})

	var docs []Document
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", g.bucket, g.prefix, err)
		}
		if strings.HasSuffix(attrs.Name, "/") || !hasExtension(path.Base(attrs.Name), g.extensions) {
			continue
		}
		content, err := g.read(ctx, bkt, attrs.Name)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		docs = append(docs, Document{Source: "gs://" + g.bucket + "/" + attrs.Name, Content: content})
	}
	return docs, nil
}

func (g *GCSSource) read(ctx context.Context, bkt *storage.BucketHandle, name string) (string, error) {
	r, err := bkt.Object(name).NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("open gs://%s/%s: %w", g.bucket, name, err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read gs://%s/%s: %w", g.bucket, name, err)
	}
	return string(b), nil
}

// Close releases the GCS client.
func (g *GCSSource) Close() error {
	return g.client.Close()
}
