// Package services loads registered relying applications from a definitions file.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	domainauth "github.com/target/sso-ticket-core/internal/domain/auth"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/ports"
)

// Release policy names accepted in definition files.
const (
	ReleaseDeny    = "deny"
	ReleaseAllowed = "allowed"
	ReleaseMapped  = "mapped"
)

// Definition is one registered service as written in the definitions file.
type Definition struct {
	ID                string            `json:"id" yaml:"id" toml:"id" validate:"required"`
	Name              string            `json:"name" yaml:"name" toml:"name" validate:"required"`
	ServiceID         string            `json:"service_id" yaml:"service_id" toml:"service_id" validate:"required"`
	ProxyAllowed      bool              `json:"proxy_allowed" yaml:"proxy_allowed" toml:"proxy_allowed"`
	EvaluationOrder   int               `json:"evaluation_order" yaml:"evaluation_order" toml:"evaluation_order"`
	ReleasePolicy     string            `json:"release_policy" yaml:"release_policy" toml:"release_policy" validate:"omitempty,oneof=deny allowed mapped"`
	AllowedAttributes []string          `json:"allowed_attributes" yaml:"allowed_attributes" toml:"allowed_attributes"`
	MappedAttributes  map[string]string `json:"mapped_attributes" yaml:"mapped_attributes" toml:"mapped_attributes"`
}

type document struct {
	Services []Definition `json:"services" yaml:"services" toml:"services" validate:"dive"`
}

type compiled struct {
	def     Definition
	pattern *regexp.Regexp
}

var _ ports.ServiceRegistry = (*FileRegistry)(nil)

// FileRegistry matches service ids against the patterns of a definitions file.
// Entries are tried in evaluation order; the first match wins.
type FileRegistry struct {
	path    string
	logger  *slog.Logger
	entries atomic.Pointer[[]compiled]
}

// NewFileRegistry loads path and returns a registry serving its definitions.
func NewFileRegistry(path string, logger *slog.Logger) (*FileRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &FileRegistry{path: path, logger: logger.With("component", "service_registry")}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the definitions file. On error the previous definitions stay active.
func (r *FileRegistry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", r.path, err)
	}
	entries, err := parse(filepath.Ext(r.path), data)
	if err != nil {
		return fmt.Errorf("%s: %w", r.path, err)
	}
	r.entries.Store(&entries)
	r.logger.Info("service definitions loaded", "path", r.path, "count", len(entries))
	return nil
}

// Len returns the number of loaded definitions.
func (r *FileRegistry) Len() int {
	if e := r.entries.Load(); e != nil {
		return len(*e)
	}
	return 0
}

func (r *FileRegistry) FindService(ctx context.Context, serviceID string) (ports.RegisteredService, error) {
	if err := ctx.Err(); err != nil {
		return ports.RegisteredService{}, apperrors.MapStoreError(err)
	}
	if e := r.entries.Load(); e != nil {
		for _, c := range *e {
			if c.pattern.MatchString(serviceID) {
				return toRegistered(c.def), nil
			}
		}
	}
	return ports.RegisteredService{}, apperrors.NotFoundf("service %s is not registered", serviceID)
}

// parse decodes a definitions document. ext selects the format: .yaml/.yml, .json/.jsonc or .toml.
func parse(ext string, data []byte) ([]compiled, error) {
	var doc document
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing toml: %w", err)
		}
	default:
		return nil, apperrors.Validation(fmt.Sprintf("unsupported definitions format %q", ext))
	}

	if err := validator.New().Struct(doc); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid service definition")
	}

	out := make([]compiled, 0, len(doc.Services))
	seen := make(map[string]struct{}, len(doc.Services))
	for _, def := range doc.Services {
		if _, dup := seen[def.ID]; dup {
			return nil, apperrors.ValidationField("id", fmt.Sprintf("duplicate service id %q", def.ID))
		}
		seen[def.ID] = struct{}{}
		re, err := regexp.Compile(def.ServiceID)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeValidation, "service %s: bad service_id pattern", def.ID)
		}
		out = append(out, compiled{def: def, pattern: re})
	}
	slices.SortStableFunc(out, func(a, b compiled) int { return a.def.EvaluationOrder - b.def.EvaluationOrder })
	return out, nil
}

func toRegistered(def Definition) ports.RegisteredService {
	svc := ports.RegisteredService{
		ID:           def.ID,
		Name:         def.Name,
		ProxyAllowed: def.ProxyAllowed,
	}
	switch def.ReleasePolicy {
	case ReleaseAllowed:
		svc.ReleasePolicy = domainauth.ReturnAllowedAttributeReleasePolicy{Allowed: slices.Clone(def.AllowedAttributes)}
	case ReleaseMapped:
		svc.ReleasePolicy = domainauth.ReturnMappedAttributeReleasePolicy{Allowed: maps.Clone(def.MappedAttributes)}
	default:
		svc.ReleasePolicy = domainauth.DenyAllAttributeReleasePolicy{}
	}
	return svc
}
