package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/smartcity/roadwork/internal/domain"
	"github.com/smartcity/roadwork/internal/logger"
)

// Catalog holds the descriptors loaded at startup, keyed by source name
type Catalog struct {
	descriptors map[string]*domain.SourceDescriptor
	names       []string
}

// NewCatalog builds a catalog from already decoded descriptors
func NewCatalog(descriptors map[string]*domain.SourceDescriptor) *Catalog {
	names := make([]string, 0, len(descriptors))
	for name := range descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Catalog{descriptors: descriptors, names: names}
}

// LoadCatalog reads every *.json file of dir as a descriptor. The source
// name is the NFC form of the file name without extension. Files that fail
// to decode are logged and skipped.
func LoadCatalog(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to read %s: %w", dir, err)
	}

	descriptors := make(map[string]*domain.SourceDescriptor)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		d, err := readDescriptor(path)
		if err != nil {
			logger.Log.WithError(err).Errorf("unable to load descriptor %s", path)
			continue
		}
		name := norm.NFC.String(strings.TrimSuffix(entry.Name(), ".json"))
		descriptors[name] = d
	}

	logger.Log.Infof("loaded %d open data descriptors from %s", len(descriptors), dir)
	return NewCatalog(descriptors), nil
}

func readDescriptor(path string) (*domain.SourceDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d domain.SourceDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Get returns the descriptor of a source
func (c *Catalog) Get(name string) (*domain.SourceDescriptor, bool) {
	d, ok := c.descriptors[norm.NFC.String(name)]
	return d, ok
}

// Names lists the sources in lexical order
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// Center returns the map center of a source, or Paris when unknown
func (c *Catalog) Center(name string) domain.LatLng {
	if d, ok := c.Get(name); ok {
		return d.Metadata.Center
	}
	return domain.ParisCenter
}
