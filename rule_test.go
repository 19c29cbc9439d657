package devproxy

import (
	"testing"

	"github.com/go-zoox/devproxy/utils/rewriter"
)

func TestNewRuleSetValidation(t *testing.T) {
	cases := []struct {
		name  string
		rules []Rule
	}{
		{
			name:  "missing prefix",
			rules: []Rule{{Target: "http://localhost:8089"}},
		},
		{
			name: "relative prefix",
			rules: []Rule{
				{MatchPrefix: "api", Target: "http://localhost:8089"},
			},
		},
		{
			name: "duplicate prefix",
			rules: []Rule{
				{MatchPrefix: "/api", Target: "http://localhost:8089"},
				{MatchPrefix: "/api", Target: "http://localhost:9090"},
			},
		},
		{
			name:  "missing target",
			rules: []Rule{{MatchPrefix: "/api"}},
		},
		{
			name:  "target without scheme",
			rules: []Rule{{MatchPrefix: "/api", Target: "localhost:8089"}},
		},
		{
			name:  "target with path",
			rules: []Rule{{MatchPrefix: "/api", Target: "http://localhost:8089/v1"}},
		},
		{
			name: "malformed regex prefix",
			rules: []Rule{
				{MatchPrefix: "^/api(", Target: "http://localhost:8089"},
			},
		},
		{
			name: "malformed rewrite",
			rules: []Rule{
				{
					MatchPrefix: "/api",
					Target:      "http://localhost:8089",
					Rewrites:    rewriter.Rewriters{{From: "^/api(", To: ""}},
				},
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewRuleSet(c.rules...)
			if err == nil {
				t.Fatal("expected a configuration error, got nil")
			}
			if _, ok := err.(*ConfigurationError); !ok {
				t.Errorf("expected *ConfigurationError, got %T: %v", err, err)
			}
		})
	}
}

func TestNewRuleSetValid(t *testing.T) {
	rs, err := NewRuleSet(
		Rule{MatchPrefix: "/api", Target: "http://localhost:8089", Rewrites: rewriter.Rewriters{{From: "^", To: ""}}},
		Rule{MatchPrefix: "/ws", Target: "https://localhost:8443"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.Len() != 2 {
		t.Errorf("got %d rules, want 2", rs.Len())
	}
}

func TestRuleSetMatch(t *testing.T) {
	rs, err := NewRuleSet(
		Rule{MatchPrefix: "/api/v2", Target: "http://localhost:9090"},
		Rule{MatchPrefix: "/api", Target: "http://localhost:8089"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rule, ok := rs.Match("/api/users")
	if !ok {
		t.Fatal("expected /api/users to match")
	}
	if rule.Target != "http://localhost:8089" {
		t.Errorf("got target %q", rule.Target)
	}

	rule, ok = rs.Match("/api/v2/users")
	if !ok {
		t.Fatal("expected /api/v2/users to match")
	}
	if rule.Target != "http://localhost:9090" {
		t.Errorf("first matching rule must win, got target %q", rule.Target)
	}

	if _, ok := rs.Match("/assets/logo.png"); ok {
		t.Error("expected /assets/logo.png not to match")
	}
}
