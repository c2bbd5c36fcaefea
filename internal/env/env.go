// Package env composes the environment handed to managed processes.
package env

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Merge layers each overrides list ("K=V") onto base in order, later keys
// winning, then expands ${VAR} references against the merged set. Unknown
// references are left as they are; expansion does not recurse. Entries
// without '=' or with an empty key are dropped. The result is sorted by key.
func Merge(base []string, overrides ...[]string) []string {
	m := make(map[string]string, len(base))
	apply := func(list []string) {
		for _, kv := range list {
			if k, v, ok := split(kv); ok {
				m[k] = v
			}
		}
	}
	apply(base)
	for _, o := range overrides {
		apply(o)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

// ParseFile reads KEY=VALUE lines in file order. Blank lines and lines
// starting with '#' are skipped; an optional "export " prefix is accepted and
// a value wrapped in matching quotes is unquoted.
func ParseFile(path string) ([]string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []string
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := split(line)
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected KEY=VALUE", path, n)
		}
		out = append(out, strings.TrimSpace(k)+"="+unquote(strings.TrimSpace(v)))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func split(kv string) (string, string, bool) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return "", "", false
	}
	return k, v, true
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// expand replaces ${NAME} with m[NAME] when NAME is set.
func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}
