package builds

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/onkernel/layerbuild/lib/layers"
	"github.com/onkernel/layerbuild/lib/paths"
)

// buildMetadata represents the metadata stored on disk
type buildMetadata struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Status        string             `json:"status"`
	Request       CreateBuildRequest `json:"request"`
	QueuePosition *int               `json:"queue_position,omitempty"`
	BaseDigest    string             `json:"base_digest,omitempty"`
	Steps         []layers.Step      `json:"steps,omitempty"`
	ImageID       string             `json:"image_id,omitempty"`
	Tag           string             `json:"tag,omitempty"`
	Error         *BuildError        `json:"error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	DurationMS    *int64             `json:"duration_ms,omitempty"`
}

// toBuild converts internal metadata to the API view
func (m *buildMetadata) toBuild() *Build {
	return &Build{
		ID:            m.ID,
		Name:          m.Name,
		Status:        m.Status,
		Request:       m.Request,
		QueuePosition: m.QueuePosition,
		BaseDigest:    m.BaseDigest,
		Steps:         m.Steps,
		ImageID:       m.ImageID,
		Tag:           m.Tag,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
		StartedAt:     m.StartedAt,
		CompletedAt:   m.CompletedAt,
		DurationMS:    m.DurationMS,
	}
}

// writeMetadata writes metadata atomically using temp file + rename
func writeMetadata(p *paths.Paths, meta *buildMetadata) error {
	dir, err := p.BuildDir(meta.ID)
	if err != nil {
		return fmt.Errorf("build directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create build directory: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	path, err := p.BuildMetadata(meta.ID)
	if err != nil {
		return err
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp metadata: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename metadata: %w", err)
	}
	return nil
}

// readMetadata reads metadata from disk
func readMetadata(p *paths.Paths, id string) (*buildMetadata, error) {
	path, err := p.BuildMetadata(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var meta buildMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &meta, nil
}

// listMetadata returns every readable build record, oldest first
func listMetadata(p *paths.Paths) ([]*buildMetadata, error) {
	entries, err := os.ReadDir(p.BuildsDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*buildMetadata{}, nil
		}
		return nil, fmt.Errorf("read builds directory: %w", err)
	}

	metas := make([]*buildMetadata, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := readMetadata(p, entry.Name())
		if err != nil {
			// Skip invalid or corrupt entries
			continue
		}
		metas = append(metas, meta)
	}

	sort.SliceStable(metas, func(i, j int) bool {
		if metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].ID < metas[j].ID
		}
		return metas[i].CreatedAt.Before(metas[j].CreatedAt)
	})
	return metas, nil
}

// listPendingBuilds returns builds that never reached a terminal state
func listPendingBuilds(p *paths.Paths) ([]*buildMetadata, error) {
	metas, err := listMetadata(p)
	if err != nil {
		return nil, err
	}
	pending := make([]*buildMetadata, 0)
	for _, meta := range metas {
		if !isTerminalStatus(meta.Status) {
			pending = append(pending, meta)
		}
	}
	return pending, nil
}

// writeBuildFile writes a named file into the build directory
func writeBuildFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create build directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readBuildFile reads a named file from an existing build
func readBuildFile(p *paths.Paths, id string, resolve func(string) (string, error)) ([]byte, error) {
	if _, err := readMetadata(p, id); err != nil {
		return nil, err
	}
	path, err := resolve(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// deleteBuildContext removes the isolated build context of a finished build
func deleteBuildContext(p *paths.Paths, id string) error {
	dir, err := p.BuildContext(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove build context: %w", err)
	}
	return nil
}
