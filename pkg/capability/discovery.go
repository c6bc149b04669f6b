package capability

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"
)

// manifestSuffixes are the file names DirSource treats as capability
// manifests.
var manifestSuffixes = []string{".capability.yaml", ".capability.yml"}

// Candidate is one discovered capability awaiting registration.
type Candidate struct {
	Kind        Kind
	Name        string
	Title       string
	Description string
	MIMEType    string
	Schema      *jsonschema.Schema
	Handler     Handler
	// Origin identifies where the candidate came from, for failure reports.
	Origin string
	// Err marks a candidate that failed source-side validation. Discover
	// records it as a failure without aborting the pass.
	Err error
}

// Source yields a finite sequence of capability candidates. Each candidate is
// validated independently by the registry during Discover.
type Source interface {
	Discover(ctx context.Context) ([]Candidate, error)
}

// HandlerFactory resolves a manifest's handler key to an invocable. A false
// return marks the candidate as failed without aborting the pass.
type HandlerFactory func(key string) (Handler, bool)

// Failure records one candidate that could not be registered.
type Failure struct {
	Origin string
	Name   string
	Err    error
}

// Report aggregates the outcome of one discovery pass. Partial failures never
// abort the pass; they are collected here instead.
type Report struct {
	Registered []Candidate
	Failures   []Failure
}

// Discover runs every source and registers each candidate independently.
// A source-level error fails only that source; candidate-level validation or
// duplicate errors fail only that candidate.
func Discover(ctx context.Context, reg *Registry, sources ...Source) *Report {
	report := &Report{}
	for _, src := range sources {
		candidates, err := src.Discover(ctx)
		if err != nil {
			report.Failures = append(report.Failures, Failure{Err: err})
			continue
		}
		for _, c := range candidates {
			if c.Err != nil {
				report.Failures = append(report.Failures, Failure{Origin: c.Origin, Name: c.Name, Err: c.Err})
				continue
			}
			if err := reg.Add(Entry{
				Kind:        c.Kind,
				Name:        c.Name,
				Title:       c.Title,
				Description: c.Description,
				MIMEType:    c.MIMEType,
				Schema:      c.Schema,
				Handler:     c.Handler,
			}); err != nil {
				report.Failures = append(report.Failures, Failure{Origin: c.Origin, Name: c.Name, Err: err})
				continue
			}
			report.Registered = append(report.Registered, c)
		}
	}
	return report
}

// manifest is the on-disk YAML shape of one capability.
type manifest struct {
	Kind        string         `yaml:"kind"`
	Name        string         `yaml:"name"`
	Title       string         `yaml:"title"`
	Description string         `yaml:"description"`
	MIMEType    string         `yaml:"mime_type"`
	Handler     string         `yaml:"handler"`
	Schema      map[string]any `yaml:"schema"`
}

// DirSource scans directories for *.capability.yaml manifests and resolves
// their handler keys through a HandlerFactory.
type DirSource struct {
	Dirs    []string
	Factory HandlerFactory
}

var _ Source = (*DirSource)(nil)

// Discover implements Source. Unreadable or invalid manifests become failed
// candidates (Handler nil, Err attached later by Discover validation) rather
// than aborting the walk.
func (s *DirSource) Discover(ctx context.Context) ([]Candidate, error) {
	var out []Candidate
	for _, dir := range s.Dirs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isManifestPath(path) {
				return nil
			}
			c, err := s.loadManifest(path)
			if err != nil {
				// Recorded as a failed candidate; the walk continues.
				out = append(out, Candidate{Name: filepath.Base(path), Origin: path, Err: err})
				return nil
			}
			out = append(out, c)
			return nil
		})
		if err != nil {
			return out, errors.Wrapf(err, "capability: scan %q", dir)
		}
	}
	return out, nil
}

func (s *DirSource) loadManifest(path string) (Candidate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Candidate{}, errors.Wrap(err, "capability: read manifest")
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Candidate{}, errors.Wrapf(err, "capability: parse manifest %q", path)
	}
	c := Candidate{
		Kind:        Kind(m.Kind),
		Name:        m.Name,
		Title:       m.Title,
		Description: m.Description,
		MIMEType:    m.MIMEType,
		Origin:      path,
	}
	if m.Schema != nil {
		schema, err := schemaFromMap(m.Schema)
		if err != nil {
			return Candidate{}, err
		}
		c.Schema = schema
	}
	if s.Factory != nil {
		if h, ok := s.Factory(m.Handler); ok {
			c.Handler = h
		}
	}
	if c.Handler == nil {
		return Candidate{}, errors.Newf("capability: no handler for key %q in %q", m.Handler, path)
	}
	return c, nil
}

func isManifestPath(path string) bool {
	for _, suffix := range manifestSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// schemaFromMap converts a decoded YAML schema object into a
// jsonschema.Schema by round-tripping through JSON.
func schemaFromMap(m map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "capability: encode schema")
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, errors.Wrap(err, "capability: decode schema")
	}
	return &schema, nil
}
