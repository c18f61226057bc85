package correlation

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ParseRule unmarshals and validates one rule document's raw YAML.
func ParseRule(raw []byte) (Rule, error) {
	var doc document

	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Rule{}, fmt.Errorf("correlation: parse rule: %w", err)
	}

	rule, err := doc.validate()
	if err != nil {
		return Rule{}, err
	}

	rule.RawYAML = string(raw)

	return rule, nil
}

// LoadRuleFile reads and parses a single rule document from disk.
func LoadRuleFile(path string) (Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rule{}, fmt.Errorf("correlation: read rule file: %w", err)
	}

	return ParseRule(raw)
}

// LoadRuleDir parses every *.yaml/*.yml file directly under dir into a
// ruleset, skipping subdirectories. A single malformed rule aborts the
// whole load — partial rulesets are never returned silently.
func LoadRuleDir(dir string) ([]Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("correlation: read rule dir: %w", err)
	}

	var rules []Rule

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		rule, err := LoadRuleFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("correlation: %s: %w", entry.Name(), err)
		}

		rules = append(rules, rule)
	}

	return rules, nil
}
