package config

import "testing"

func TestCrawlPolicyNormalize(t *testing.T) {
	p := CrawlPolicyConfig{
		Allow:    []string{" Example.com ", "https://www.Example.com/path", "docs.example.org"},
		Disallow: []string{"TRACKER.io", "tracker.io"},
	}
	norm := p.Normalize()
	if len(norm.Allow) != 2 {
		t.Fatalf("expected 2 allow entries after dedupe, got %v", norm.Allow)
	}
	if len(norm.Disallow) != 1 || norm.Disallow[0] != "tracker.io" {
		t.Fatalf("unexpected disallow list: %v", norm.Disallow)
	}
}

func TestCrawlPolicyValidateConflict(t *testing.T) {
	p := CrawlPolicyConfig{Allow: []string{"example.com"}, Disallow: []string{"example.com"}}
	if err := p.Validate(); err == nil {
		t.Fatal("expected conflict error for host in both lists")
	}
}

func TestCrawlPolicyAllowsHost(t *testing.T) {
	cases := []struct {
		name   string
		policy CrawlPolicyConfig
		host   string
		want   bool
	}{
		{"empty policy allows all", CrawlPolicyConfig{}, "anything.net", true},
		{"disallow exact", CrawlPolicyConfig{Disallow: []string{"spam.example"}}, "spam.example", false},
		{"disallow covers subdomain", CrawlPolicyConfig{Disallow: []string{"spam.example"}}, "ads.spam.example", false},
		{"allow list restricts", CrawlPolicyConfig{Allow: []string{"example.com"}}, "other.com", false},
		{"allow covers subdomain", CrawlPolicyConfig{Allow: []string{"example.com"}}, "docs.example.com", true},
		{"disallow wins over allow", CrawlPolicyConfig{Allow: []string{"example.com"}, Disallow: []string{"bad.example.com"}}, "bad.example.com", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.policy.Normalize()
			if got := p.AllowsHost(tc.host); got != tc.want {
				t.Fatalf("AllowsHost(%q) = %v, want %v", tc.host, got, tc.want)
			}
		})
	}
}
