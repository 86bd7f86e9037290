// Package registry holds the load-time-fixed list of monitored chains.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/multichain-gas-ea/internal/types"
)

// DefaultBaselineRate is returned for chains missing from the baseline table
const DefaultBaselineRate = 5.0

// APIKeyPlaceholder is substituted in endpoint templates with the provider API key
const APIKeyPlaceholder = "{apiKey}"

// baselineRates holds approximate typical fee rates in gwei, used only for seeding
var baselineRates = map[int64]float64{
	1:        20,
	10:       0.001,
	56:       3,
	97:       5,
	137:      30,
	8453:     0.01,
	42161:    0.1,
	43114:    25,
	11155111: 10,
}

// ConfigurationError reports a chain entry that cannot be monitored.
// It is fatal at startup, never at poll time.
type ConfigurationError struct {
	Chain  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid chain %q: %s", e.Chain, e.Reason)
}

// Registry is the read-only list of chains and non-EVM placeholders
type Registry struct {
	chains       []types.ChainDescriptor
	placeholders []types.Placeholder
	byKey        map[string]int
}

// Options controls how endpoint templates are resolved
type Options struct {
	// APIKey replaces APIKeyPlaceholder in endpoints
	APIKey string

	// Overrides maps chain keys to endpoints that replace the configured ones
	Overrides map[string]string
}

// New validates the descriptors and builds a registry. Insertion order is kept.
func New(chains []types.ChainDescriptor, placeholders []types.Placeholder) (*Registry, error) {
	if err := Validate(chains); err != nil {
		return nil, err
	}

	r := &Registry{
		chains:       make([]types.ChainDescriptor, len(chains)),
		placeholders: make([]types.Placeholder, len(placeholders)),
		byKey:        make(map[string]int, len(chains)),
	}
	copy(r.chains, chains)
	copy(r.placeholders, placeholders)
	for i, c := range r.chains {
		r.byKey[c.Key] = i
	}
	return r, nil
}

// Default builds the built-in registry with endpoint templates resolved
func Default(opts Options) (*Registry, error) {
	return New(resolve(defaultChains(), opts), defaultPlaceholders())
}

// fileFormat is the YAML layout of a chains file
type fileFormat struct {
	Chains       []types.ChainDescriptor `yaml:"chains"`
	Placeholders []types.Placeholder     `yaml:"placeholders"`
}

// Load reads a YAML chains file. An empty path yields the built-in registry.
// The built-in non-EVM placeholders are always present.
func Load(path string, opts Options) (*Registry, error) {
	if path == "" {
		return Default(opts)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chains file: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse chains file: %w", err)
	}
	if len(f.Chains) == 0 {
		return nil, &ConfigurationError{Chain: path, Reason: "no chains defined"}
	}

	for i := range f.Placeholders {
		if f.Placeholders[i].Kind == "" {
			f.Placeholders[i].Kind = types.KindMainnet
		}
	}

	logrus.WithFields(logrus.Fields{
		"path":         path,
		"chains":       len(f.Chains),
		"placeholders": len(f.Placeholders),
	}).Info("Loaded chain registry file")

	return New(resolve(f.Chains, opts), mergePlaceholders(defaultPlaceholders(), f.Placeholders))
}

// mergePlaceholders keeps every built-in placeholder. File entries with a
// built-in key replace its labels; other entries are appended in file order.
func mergePlaceholders(builtin, extra []types.Placeholder) []types.Placeholder {
	out := make([]types.Placeholder, len(builtin), len(builtin)+len(extra))
	copy(out, builtin)
	index := make(map[string]int, len(out))
	for i, p := range out {
		index[p.Key] = i
	}
	for _, p := range extra {
		if i, ok := index[p.Key]; ok {
			out[i] = p
			continue
		}
		index[p.Key] = len(out)
		out = append(out, p)
	}
	return out
}

// Validate checks every descriptor and the uniqueness of ids and keys
func Validate(chains []types.ChainDescriptor) error {
	seenIDs := make(map[int64]string, len(chains))
	seenKeys := make(map[string]struct{}, len(chains))

	var errs []error
	for _, c := range chains {
		name := c.Key
		if name == "" {
			name = fmt.Sprintf("#%d", c.ID)
		}
		fail := func(format string, args ...interface{}) {
			errs = append(errs, &ConfigurationError{Chain: name, Reason: fmt.Sprintf(format, args...)})
		}

		if c.Key == "" {
			fail("missing key")
		}
		if c.ID <= 0 {
			fail("chain id must be positive, got %d", c.ID)
		}
		if other, ok := seenIDs[c.ID]; ok && c.ID > 0 {
			fail("duplicate chain id %d (also used by %s)", c.ID, other)
		}
		if _, ok := seenKeys[c.Key]; ok && c.Key != "" {
			fail("duplicate key")
		}
		if !c.Kind.Valid() {
			fail("unknown type %q", c.Kind)
		}
		if !c.FeeModel.Valid() {
			fail("unknown fee model %q", c.FeeModel)
		}
		if err := validateEndpoint(c.Endpoint); err != nil {
			fail("%v", err)
		}

		seenIDs[c.ID] = name
		seenKeys[c.Key] = struct{}{}
	}

	return errors.Join(errs...)
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return errors.New("missing endpoint")
	}
	if strings.Contains(endpoint, APIKeyPlaceholder) {
		return errors.New("endpoint has an unresolved API key placeholder")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("bad endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("endpoint has no host")
	}
	return nil
}

// resolve applies overrides and API key substitution to copies of the descriptors
func resolve(chains []types.ChainDescriptor, opts Options) []types.ChainDescriptor {
	out := make([]types.ChainDescriptor, 0, len(chains))
	for _, c := range chains {
		if override, ok := opts.Overrides[c.Key]; ok && override != "" {
			c.Endpoint = override
		}
		if opts.APIKey != "" {
			c.Endpoint = strings.ReplaceAll(c.Endpoint, APIKeyPlaceholder, opts.APIKey)
		}
		out = append(out, c)
	}
	return out
}

// ListChains returns the chains in insertion order
func (r *Registry) ListChains() []types.ChainDescriptor {
	out := make([]types.ChainDescriptor, len(r.chains))
	copy(out, r.chains)
	return out
}

// Placeholders returns the declared non-EVM chains
func (r *Registry) Placeholders() []types.Placeholder {
	out := make([]types.Placeholder, len(r.placeholders))
	copy(out, r.placeholders)
	return out
}

// Lookup finds a chain by key
func (r *Registry) Lookup(key string) (types.ChainDescriptor, bool) {
	i, ok := r.byKey[key]
	if !ok {
		return types.ChainDescriptor{}, false
	}
	return r.chains[i], true
}

// IsPlaceholder reports whether key names a declared non-EVM chain
func (r *Registry) IsPlaceholder(key string) bool {
	for _, p := range r.placeholders {
		if p.Key == key {
			return true
		}
	}
	return false
}

// Len returns the number of EVM chains
func (r *Registry) Len() int {
	return len(r.chains)
}

// BaselineRate returns the typical fee rate used to seed synthetic history
func (r *Registry) BaselineRate(chainID int64) float64 {
	return BaselineRate(chainID)
}

// BaselineRate is the package-level lookup behind Registry.BaselineRate
func BaselineRate(chainID int64) float64 {
	if rate, ok := baselineRates[chainID]; ok {
		return rate
	}
	return DefaultBaselineRate
}
