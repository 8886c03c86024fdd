package ttl

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSeconds is the freshness window for queries no rule matches.
const DefaultSeconds = 8

// Rule maps lowercase substrings of the query text to a freshness
// window. First matching rule wins.
type Rule struct {
	Seconds  int      `yaml:"seconds"`
	Patterns []string `yaml:"patterns"`
}

type Policy struct {
	rules   []Rule
	defSecs int
}

// Default builds the built-in table. Matching is on the operation
// declaration as raw text, not a parsed AST; operation names come from
// our own clients, so substrings are enough.
func Default() *Policy {
	return build([]Rule{
		{Seconds: 3, Patterns: []string{"query globalfeed", "query recentactivity"}},
		{Seconds: 8, Patterns: []string{"query billboard", "query homepage", "query lotterysummaries"}},
		{Seconds: 15, Patterns: []string{"query lotteryby", "query lotteriesbyuser"}},
		{Seconds: 20, Patterns: []string{"query lotteriesbycreator", "query lotteriesbyrecipient"}},
	}, DefaultSeconds)
}

type ruleFile struct {
	Default int    `yaml:"default"`
	Rules   []Rule `yaml:"rules"`
}

// Load reads a rule table from a YAML file, replacing the built-in one.
func Load(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ttl rules: %w", err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse ttl rules: %w", err)
	}

	if f.Default <= 0 {
		f.Default = DefaultSeconds
	}
	for i, r := range f.Rules {
		if r.Seconds <= 0 {
			return nil, fmt.Errorf("ttl rule %d: seconds must be positive", i)
		}
		if len(r.Patterns) == 0 {
			return nil, errors.New("ttl rule with no patterns")
		}
	}

	return build(f.Rules, f.Default), nil
}

func build(rules []Rule, defSecs int) *Policy {
	p := &Policy{defSecs: defSecs}
	for _, r := range rules {
		lowered := make([]string, len(r.Patterns))
		for i, pat := range r.Patterns {
			lowered[i] = strings.ToLower(pat)
		}
		p.rules = append(p.rules, Rule{Seconds: r.Seconds, Patterns: lowered})
	}
	return p
}

// Seconds returns the freshness window for the given query text.
func (p *Policy) Seconds(query string) int {
	q := strings.ToLower(query)
	for _, r := range p.rules {
		for _, pat := range r.Patterns {
			if strings.Contains(q, pat) {
				return r.Seconds
			}
		}
	}
	return p.defSecs
}
