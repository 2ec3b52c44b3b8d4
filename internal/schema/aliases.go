package schema

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed aliases.yaml
var defaultAliasesYAML []byte

// aliasFile is the on-disk shape of an alias table.
type aliasFile struct {
	Fields   map[string][]string            `yaml:"fields"`
	Prefixes map[string][]string            `yaml:"prefixes"`
	Values   map[string]map[string][]string `yaml:"values"`
}

type prefixAlias struct {
	prefix string
	field  Field
}

// AliasTable maps normalized header labels and cell values to canonical forms.
// It is built once and never mutated afterwards, so it is safe to share.
type AliasTable struct {
	exact    map[string]Field
	prefixes []prefixAlias
	values   map[Field]map[string]string
}

var (
	defaultTable     *AliasTable
	defaultTableErr  error
	defaultTableOnce sync.Once
)

// DefaultAliasTable returns the built-in alias table.
func DefaultAliasTable() *AliasTable {
	defaultTableOnce.Do(func() {
		defaultTable, defaultTableErr = buildAliasTable(defaultAliasesYAML, nil)
	})
	if defaultTableErr != nil {
		panic(fmt.Sprintf("schema: built-in alias table is invalid: %v", defaultTableErr))
	}
	return defaultTable
}

// LoadAliasTable returns the built-in table extended with the entries of
// overridePath. Entries from the file win on conflict. An empty path returns
// the built-in table.
func LoadAliasTable(overridePath string) (*AliasTable, error) {
	if overridePath == "" {
		return DefaultAliasTable(), nil
	}
	extra, err := os.ReadFile(overridePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read alias file '%s': %w", overridePath, err)
	}
	table, err := buildAliasTable(defaultAliasesYAML, extra)
	if err != nil {
		return nil, fmt.Errorf("alias file '%s': %w", overridePath, err)
	}
	return table, nil
}

func buildAliasTable(sources ...[]byte) (*AliasTable, error) {
	t := &AliasTable{
		exact:  make(map[string]Field),
		values: make(map[Field]map[string]string),
	}
	for _, src := range sources {
		if len(src) == 0 {
			continue
		}
		var af aliasFile
		if err := yaml.Unmarshal(src, &af); err != nil {
			return nil, fmt.Errorf("failed to parse alias YAML: %w", err)
		}
		if err := t.merge(af); err != nil {
			return nil, err
		}
	}
	// Longest prefix first so the most specific alias wins.
	sort.SliceStable(t.prefixes, func(i, j int) bool {
		return len(t.prefixes[i].prefix) > len(t.prefixes[j].prefix)
	})
	return t, nil
}

func (t *AliasTable) merge(af aliasFile) error {
	for target, aliases := range af.Fields {
		field := Field(NormalizeLabel(target))
		if field == "" {
			return fmt.Errorf("empty canonical field name in 'fields'")
		}
		// A canonical name always resolves to itself.
		t.exact[string(field)] = field
		for _, alias := range aliases {
			if key := NormalizeLabel(alias); key != "" {
				t.exact[key] = field
			}
		}
	}
	for target, prefixes := range af.Prefixes {
		field := Field(NormalizeLabel(target))
		for _, p := range prefixes {
			if key := NormalizeLabel(p); key != "" {
				t.prefixes = append(t.prefixes, prefixAlias{prefix: key, field: field})
			}
		}
	}
	for target, canon := range af.Values {
		field := Field(NormalizeLabel(target))
		if t.values[field] == nil {
			t.values[field] = make(map[string]string)
		}
		for canonical, spellings := range canon {
			t.values[field][NormalizeLabel(canonical)] = canonical
			for _, s := range spellings {
				t.values[field][NormalizeLabel(s)] = canonical
			}
		}
	}
	return nil
}

// Resolve maps a normalized label to its canonical field.
// The boolean is false when the label has no alias entry.
func (t *AliasTable) Resolve(normalized string) (Field, bool) {
	if f, ok := t.exact[normalized]; ok {
		return f, true
	}
	for _, p := range t.prefixes {
		if strings.HasPrefix(normalized, p.prefix) {
			return p.field, true
		}
	}
	return "", false
}

// CanonicalValue returns the canonical spelling of a cell value for field f,
// or the value unchanged when no value alias applies.
func (t *AliasTable) CanonicalValue(f Field, value string) string {
	spellings, ok := t.values[f]
	if !ok || value == "" {
		return value
	}
	if canonical, ok := spellings[NormalizeLabel(value)]; ok {
		return canonical
	}
	return value
}

// NormalizeLabel folds case, applies compatibility normalization (which turns
// non-breaking spaces into spaces) and collapses every run of characters that
// are neither letters nor digits into a single underscore.
func NormalizeLabel(label string) string {
	folded := cases.Fold().String(norm.NFKC.String(label))

	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}
