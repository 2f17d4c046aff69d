package ai

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/tbourn/go-tutor-backend/internal/ai/provider"
	"github.com/tbourn/go-tutor-backend/internal/domain"
)

type stubProvider struct {
	name      provider.Name
	available bool
	lastOpts  provider.Options
	calls     int
}

func (s *stubProvider) Name() provider.Name { return s.name }
func (s *stubProvider) Available() bool     { return s.available }
func (s *stubProvider) Call(_ context.Context, _, _ string, opts provider.Options) (*provider.Response, error) {
	s.calls++
	s.lastOpts = opts
	return &provider.Response{Content: "ok", Provider: s.name}, nil
}

func TestLookup(t *testing.T) {
	cases := []struct {
		role   domain.Role
		name   string
		prov   provider.Name
		format provider.Format
	}{
		{domain.RolePlanner, "Planner", provider.OpenAI, provider.FormatJSON},
		{domain.RoleTutor, "Tutor", provider.DeepSeek, provider.FormatText},
		{domain.RoleExaminer, "Examiner", provider.OpenAI, provider.FormatJSON},
		{domain.RoleCoach, "Coach", provider.DeepSeek, provider.FormatJSON},
		{domain.RoleReviewer, "Reviewer", provider.OpenAI, provider.FormatJSON},
	}
	for _, tc := range cases {
		rc, ok := Lookup(tc.role)
		if !ok {
			t.Fatalf("Lookup(%s) missing", tc.role)
		}
		if rc.Name != tc.name || rc.Provider != tc.prov || rc.Format != tc.format {
			t.Fatalf("Lookup(%s) = %+v", tc.role, rc)
		}
	}
	if _, ok := Lookup("janitor"); ok {
		t.Fatalf("unknown role must not resolve")
	}
}

func TestListRoles(t *testing.T) {
	roles := ListRoles(func(r domain.Role) []string {
		if r == domain.RoleTutor {
			return []string{"v2", "v1"}
		}
		return nil
	})
	if len(roles) != 5 || roles[0].ID != domain.RolePlanner || roles[4].ID != domain.RoleReviewer {
		t.Fatalf("roles = %+v", roles)
	}
	if len(roles[1].Versions) != 2 || roles[1].Versions[0] != "v2" {
		t.Fatalf("tutor versions = %v", roles[1].Versions)
	}
	if roles[0].Versions == nil || len(roles[0].Versions) != 0 {
		t.Fatalf("missing versions should be an empty list, got %#v", roles[0].Versions)
	}
	if got := ListRoles(nil); len(got) != 5 {
		t.Fatalf("ListRoles(nil) len = %d", len(got))
	}
}

func TestEstimateCost(t *testing.T) {
	near := func(a, b float64) bool { return math.Abs(a-b) < 1e-12 }
	if got := EstimateCost(provider.OpenAI, 1000, 1000); !near(got, 0.02) {
		t.Fatalf("openai cost = %v", got)
	}
	if got := EstimateCost(provider.DeepSeek, 2000, 500); !near(got, 0.0003) {
		t.Fatalf("deepseek cost = %v", got)
	}
	if got := EstimateCost("other", 1000, 1000); got != 0 {
		t.Fatalf("unknown provider cost = %v", got)
	}
}

func TestRouter_RoutesByRoleAndAppliesFormat(t *testing.T) {
	oa := &stubProvider{name: provider.OpenAI, available: true}
	ds := &stubProvider{name: provider.DeepSeek, available: true}
	r := &Router{OpenAI: oa, DeepSeek: ds}

	resp, err := r.Route(context.Background(), domain.RoleTutor, "s", "u", provider.Options{Format: provider.FormatJSON})
	if err != nil || resp.Provider != provider.DeepSeek {
		t.Fatalf("tutor route = %+v, %v", resp, err)
	}
	if ds.lastOpts.Format != provider.FormatText {
		t.Fatalf("tutor format = %q", ds.lastOpts.Format)
	}

	if _, err := r.Route(context.Background(), domain.RoleExaminer, "s", "u", provider.Options{}); err != nil {
		t.Fatalf("examiner route: %v", err)
	}
	if oa.calls != 1 || oa.lastOpts.Format != provider.FormatJSON {
		t.Fatalf("examiner call opts = %+v (calls %d)", oa.lastOpts, oa.calls)
	}
}

func TestRouter_Errors(t *testing.T) {
	r := &Router{OpenAI: &stubProvider{name: provider.OpenAI}}
	if _, err := r.Route(context.Background(), domain.RolePlanner, "s", "u", provider.Options{}); !errors.Is(err, ErrNoProvider) || !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
	if _, err := r.Route(context.Background(), domain.RoleCoach, "s", "u", provider.Options{}); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("nil deepseek should be ErrNoProvider, got %v", err)
	}
	if _, err := r.Route(context.Background(), "janitor", "s", "u", provider.Options{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unknown role should be a validation error, got %v", err)
	}
	av := r.Availability()
	if av[provider.OpenAI] || av[provider.DeepSeek] {
		t.Fatalf("availability = %v", av)
	}
}
