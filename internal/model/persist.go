package model

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

const (
	blobFormat  = "cursorguard/decision-tree"
	blobVersion = 1
)

type blob struct {
	Format    string      `json:"format"`
	Version   int         `json:"version"`
	NFeatures int         `json:"n_features"`
	Classes   []int       `json:"classes"`
	Options   TreeOptions `json:"options"`
	Nodes     []Node      `json:"nodes"`
}

// Save writes the fitted tree as a JSON blob.
func (t *DecisionTree) Save(w io.Writer) error {
	if len(t.nodes) == 0 {
		return ErrNotFitted
	}
	enc := json.NewEncoder(w)
	return enc.Encode(blob{
		Format:    blobFormat,
		Version:   blobVersion,
		NFeatures: t.features,
		Classes:   t.classes,
		Options:   t.opts,
		Nodes:     t.nodes,
	})
}

// SaveFile writes the blob to path atomically.
func (t *DecisionTree) SaveFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*")
	if err != nil {
		return fmt.Errorf("create temp model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := t.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close model file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads and validates a blob written by Save.
func Load(r io.Reader) (*DecisionTree, error) {
	var b blob
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if b.Format != blobFormat {
		return nil, fmt.Errorf("unexpected model format %q", b.Format)
	}
	if b.Version != blobVersion {
		return nil, fmt.Errorf("unsupported model version %d", b.Version)
	}
	if err := validate(&b); err != nil {
		return nil, err
	}
	return &DecisionTree{opts: b.Options, nodes: b.Nodes, classes: b.Classes, features: b.NFeatures}, nil
}

// LoadFile opens path and loads it. Every failure is an *UnavailableError.
func LoadFile(path string) (*DecisionTree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &UnavailableError{Path: path, Err: err}
	}
	defer f.Close()

	t, err := Load(f)
	if err != nil {
		return nil, &UnavailableError{Path: path, Err: err}
	}
	return t, nil
}

func validate(b *blob) error {
	if b.NFeatures <= 0 {
		return errors.New("model has no features")
	}
	if len(b.Classes) == 0 {
		return errors.New("model has no classes")
	}
	if len(b.Nodes) == 0 {
		return errors.New("model has no nodes")
	}
	for i, n := range b.Nodes {
		if n.Feature < 0 {
			if len(n.Value) != len(b.Classes) {
				return fmt.Errorf("leaf %d has %d class weights, want %d", i, len(n.Value), len(b.Classes))
			}
			continue
		}
		if n.Feature >= b.NFeatures {
			return fmt.Errorf("node %d splits on feature %d of %d", i, n.Feature, b.NFeatures)
		}
		// children are always appended after their parent
		if n.Left <= i || n.Right <= i || n.Left >= len(b.Nodes) || n.Right >= len(b.Nodes) {
			return fmt.Errorf("node %d has invalid children %d/%d", i, n.Left, n.Right)
		}
	}
	return nil
}
