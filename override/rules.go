package override

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Rule is the replacement for one exact URL. Source is the body as text
// when PlainText is set, otherwise it is already base64.
type Rule struct {
	Source    string `json:"source"`
	PlainText bool   `json:"plainText"`
}

// ParseRules decodes {url: {source, plainText}}.
func ParseRules(r io.Reader) (map[string]Rule, error) {
	var rules map[string]Rule
	if err := json.NewDecoder(r).Decode(&rules); err != nil {
		return nil, fmt.Errorf("override: decode rules: %w", err)
	}
	return rules, nil
}

// ReadRules reads a rule file.
func ReadRules(path string) (map[string]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("override: %w", err)
	}
	defer f.Close()
	return ParseRules(f)
}
