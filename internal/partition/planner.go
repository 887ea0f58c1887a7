// Package partition computes deterministic Bronze/Silver partition paths
// from identifying coordinates (§4.4). It holds no state and performs no
// I/O — callers resolve the returned path against a storage backend.
package partition

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/cuemby/medallion/internal/config"
)

var identifierRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ErrInvalidIdentifier is returned when a path component fails
// normalization (§4.4: "Any other character is an error").
type ErrInvalidIdentifier struct {
	Field string
	Value string
}

func (e *ErrInvalidIdentifier) Error() string {
	return fmt.Sprintf("invalid identifier for %s: %q (must match [a-z0-9_-]+ after lowercasing)", e.Field, e.Value)
}

// NormalizeIdentifier lowercases and validates an identifier component.
func NormalizeIdentifier(field, value string) (string, error) {
	lowered := strings.ToLower(value)
	if lowered == "" || !identifierRe.MatchString(lowered) {
		return "", &ErrInvalidIdentifier{Field: field, Value: value}
	}
	return lowered, nil
}

// BronzePath computes the Bronze partition path per §4.4:
//
//	[prefix]/system=<system>/table=<entity>/pattern=<load_pattern>/dt=<YYYY-MM-DD>/
func BronzePath(prefix, system, entity string, loadPattern config.LoadPattern, runDate time.Time) (string, error) {
	sys, err := NormalizeIdentifier("system", system)
	if err != nil {
		return "", err
	}
	ent, err := NormalizeIdentifier("entity", entity)
	if err != nil {
		return "", err
	}
	pat, err := NormalizeIdentifier("load_pattern", string(loadPattern))
	if err != nil {
		return "", err
	}

	parts := []string{
		fmt.Sprintf("system=%s", sys),
		fmt.Sprintf("table=%s", ent),
		fmt.Sprintf("pattern=%s", pat),
		fmt.Sprintf("dt=%s", runDate.UTC().Format("2006-01-02")),
	}
	return joinPrefixed(prefix, parts), nil
}

// SilverPath computes the Silver partition path per §4.4:
//
//	[prefix]/domain=<domain>/entity=<entity>/v<version>/load_date=<YYYY-MM-DD>/[k=v/...]
func SilverPath(prefix, domain, entity string, version int, loadDate time.Time, secondary map[string]string, secondaryOrder []string) (string, error) {
	dom, err := NormalizeIdentifier("domain", domain)
	if err != nil {
		return "", err
	}
	ent, err := NormalizeIdentifier("entity", entity)
	if err != nil {
		return "", err
	}

	parts := []string{
		fmt.Sprintf("domain=%s", dom),
		fmt.Sprintf("entity=%s", ent),
		fmt.Sprintf("v%d", version),
		fmt.Sprintf("load_date=%s", loadDate.UTC().Format("2006-01-02")),
	}
	for _, k := range secondaryOrder {
		v, ok := secondary[k]
		if !ok {
			continue
		}
		nk, err := NormalizeIdentifier("partition_by."+k, k)
		if err != nil {
			return "", err
		}
		nv, err := NormalizeIdentifier("partition_by."+k+".value", fmt.Sprintf("%v", v))
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s=%s", nk, nv))
	}
	return joinPrefixed(prefix, parts), nil
}

func joinPrefixed(prefix string, parts []string) string {
	joined := path.Join(parts...)
	if prefix == "" {
		return joined + "/"
	}
	return path.Join(prefix, joined) + "/"
}
