package scoring

import (
	"math"
	"testing"

	"github.com/spigell/jobhunter/internal/jobs"
)

func ptr(v float64) *float64 { return &v }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestPartialSkillCoverageStaysBelowThreshold(t *testing.T) {
	t.Parallel()

	engine := New(DefaultWeights(), nil)
	profile := jobs.Profile{
		Skills:        []string{"Python", "Docker"},
		DesiredTitles: []string{"Python Developer"},
		Locations:     []string{"Lisbon"},
		RemoteOK:      true,
	}
	posting := jobs.Posting{
		Title:       "Backend Developer",
		Description: "We build APIs in Python.",
		Location:    "Berlin",
	}

	b := engine.Explain(posting, profile)
	if b.Skills == nil || !approx(*b.Skills, 0.5) {
		t.Fatalf("expected skill coverage 0.5, got %v", b.Skills)
	}
	if len(b.MatchedSkills) != 1 || b.MatchedSkills[0] != "Python" {
		t.Fatalf("unexpected matched skills: %v", b.MatchedSkills)
	}
	if b.Score >= 0.8 {
		t.Fatalf("expected score below 0.8, got %.3f", b.Score)
	}
}

func TestScoreTerms(t *testing.T) {
	t.Parallel()

	engine := New(Weights{Skills: 1}, nil)
	profile := jobs.Profile{Skills: []string{"JavaScript", "Kubernetes", "C++", "machine learning"}}

	tests := []struct {
		name        string
		description string
		expect      float64
	}{
		{name: "synonyms count", description: "React frontend deployed on k8s", expect: 0.5},
		{name: "symbols survive tokenizing", description: "Modern C++ and ML.", expect: 0.5},
		{name: "multi word skill", description: "applied machine learning with node.js", expect: 0.5},
		{name: "no substring false positives", description: "javascripting kubernetesque", expect: 0},
		{name: "all skills", description: "js, kubernetes, c++, ai", expect: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := engine.Score(jobs.Posting{Title: "Engineer", Description: tt.description}, profile)
			if !approx(got, tt.expect) {
				t.Fatalf("expected %.2f, got %.4f", tt.expect, got)
			}
		})
	}
}

func TestTitleTerm(t *testing.T) {
	t.Parallel()

	engine := New(Weights{Title: 1}, nil)
	desired := jobs.Profile{DesiredTitles: []string{"Senior Go Engineer", "Platform Engineer"}}

	tests := []struct {
		name    string
		title   string
		profile jobs.Profile
		expect  float64
	}{
		{name: "full match", title: "Platform Engineer (Berlin)", profile: desired, expect: titleFull},
		{name: "partial match", title: "Senior Go Developer", profile: desired, expect: titlePartialMax * 2 / 3},
		{name: "generic role beats weak partial", title: "Data Engineer", profile: jobs.Profile{DesiredTitles: []string{"Senior Go Developer"}}, expect: titleGeneric},
		{name: "miss", title: "Account Manager", profile: desired, expect: titleMiss},
		{name: "no desired titles", title: "Account Manager", profile: jobs.Profile{}, expect: neutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := engine.Score(jobs.Posting{Title: tt.title}, tt.profile)
			if !approx(got, tt.expect) {
				t.Fatalf("expected %.4f, got %.4f", tt.expect, got)
			}
		})
	}
}

func TestLocationTerm(t *testing.T) {
	t.Parallel()

	profile := jobs.Profile{Locations: []string{"São Paulo"}, RemoteOK: true}

	tests := []struct {
		name    string
		posting jobs.Posting
		profile jobs.Profile
		expect  float64
	}{
		{name: "unspecified", posting: jobs.Posting{}, profile: profile, expect: neutral},
		{name: "remote marker", posting: jobs.Posting{Location: "Remote - Brazil"}, profile: profile, expect: locationRemote},
		{name: "remote flag", posting: jobs.Posting{Remote: true}, profile: profile, expect: locationRemote},
		{name: "preferred", posting: jobs.Posting{Location: "são paulo, sp"}, profile: profile, expect: locationPrefered},
		{name: "elsewhere", posting: jobs.Posting{Location: "Recife"}, profile: profile, expect: locationMiss},
		{name: "remote not wanted", posting: jobs.Posting{Location: "Remote"}, profile: jobs.Profile{}, expect: locationMiss},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := locationTerm(tt.posting, tt.profile); !approx(got, tt.expect) {
				t.Fatalf("expected %.2f, got %.2f", tt.expect, got)
			}
		})
	}
}

func TestSalaryTerm(t *testing.T) {
	t.Parallel()

	profile := jobs.Profile{SalaryMin: 100000, SalaryMax: 150000}

	tests := []struct {
		name    string
		posting jobs.Posting
		profile jobs.Profile
		expect  float64
		ok      bool
	}{
		{name: "overlap from text", posting: jobs.Posting{Salary: "$90k - 120k"}, profile: profile, expect: salaryOverlap, ok: true},
		{name: "above from fields", posting: jobs.Posting{SalaryMin: ptr(160000), SalaryMax: ptr(200000)}, profile: profile, expect: salaryAbove, ok: true},
		{name: "below", posting: jobs.Posting{Salary: "50,000 per year"}, profile: profile, expect: salaryBelow, ok: true},
		{name: "open-ended profile", posting: jobs.Posting{SalaryMin: ptr(500000)}, profile: jobs.Profile{SalaryMin: 100000}, expect: salaryOverlap, ok: true},
		{name: "posting without salary", posting: jobs.Posting{}, profile: profile},
		{name: "profile without salary", posting: jobs.Posting{Salary: "100k"}, profile: jobs.Profile{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := salaryTerm(tt.posting, tt.profile)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && !approx(got, tt.expect) {
				t.Fatalf("expected %.2f, got %.2f", tt.expect, got)
			}
		})
	}
}

func TestMissingSalaryIsNeutral(t *testing.T) {
	t.Parallel()

	engine := New(DefaultWeights(), nil)
	profile := jobs.Profile{Skills: []string{"go"}, SalaryMin: 100000}
	posting := jobs.Posting{Title: "Go developer", Description: "golang"}

	withoutSalary := engine.Score(posting, profile)

	profile.SalaryMin = 0
	withoutProfileSalary := engine.Score(posting, profile)

	if !approx(withoutSalary, withoutProfileSalary) {
		t.Fatalf("missing salary must not change the score: %.4f vs %.4f", withoutSalary, withoutProfileSalary)
	}
}

func TestEmptySkillsUseTitleAndLocationOnly(t *testing.T) {
	t.Parallel()

	w := DefaultWeights()
	engine := New(w, nil)
	profile := jobs.Profile{DesiredTitles: []string{"Data Analyst"}, Locations: []string{"Porto"}}
	posting := jobs.Posting{Title: "Data Analyst", Location: "Porto", Description: "SQL every day"}

	b := engine.Explain(posting, profile)
	if b.Skills != nil {
		t.Fatalf("expected no skills term")
	}
	expect := (w.Title*titleFull + w.Location*locationPrefered) / (w.Title + w.Location)
	if !approx(b.Score, expect) {
		t.Fatalf("expected %.4f, got %.4f", expect, b.Score)
	}
}

func TestEmptyDescriptionScoresFromTitle(t *testing.T) {
	t.Parallel()

	engine := New(DefaultWeights(), nil)
	profile := jobs.Profile{Skills: []string{"python", "docker"}, DesiredTitles: []string{"python developer"}}

	withDescription := engine.Score(jobs.Posting{Title: "Python Developer", Description: "docker"}, profile)
	titleOnly := engine.Score(jobs.Posting{Title: "Python Developer"}, profile)

	if titleOnly >= withDescription {
		t.Fatalf("expected title-only score %.4f below %.4f", titleOnly, withDescription)
	}
	if titleOnly <= 0 {
		t.Fatalf("expected the title to contribute, got %.4f", titleOnly)
	}
}

func TestScoreIsDeterministicAndBounded(t *testing.T) {
	t.Parallel()

	engine := New(Weights{Skills: 3, Title: 0, Location: -1, Salary: 2}, nil)
	profiles := []jobs.Profile{
		{},
		{Skills: []string{"python", "go", "sql"}, SalaryMin: 1, SalaryMax: 2},
		{DesiredTitles: []string{""}, Locations: []string{""}, RemoteOK: true},
	}
	postings := []jobs.Posting{
		{},
		{Title: "Go", Description: "go go go golang postgres", Salary: "999k", Remote: true},
		{Title: "!!!", Description: "...", Salary: "abc", SalaryMin: ptr(-5)},
	}

	for _, profile := range profiles {
		for _, posting := range postings {
			first := engine.Score(posting, profile)
			if first < 0 || first > 1 || math.IsNaN(first) {
				t.Fatalf("score out of bounds: %v", first)
			}
			if second := engine.Score(posting, profile); second != first {
				t.Fatalf("score not deterministic: %v vs %v", first, second)
			}
		}
	}
}

func TestParseSalary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		lo, hi float64
		ok     bool
	}{
		{in: "R$ 8.000 a 10.000", lo: 8000, hi: 10000, ok: true},
		{in: "$120,000", lo: 120000, hi: 120000, ok: true},
		{in: "90k-110K", lo: 90000, hi: 110000, ok: true},
		{in: "от 250 000 руб.", lo: 250000, hi: 250000, ok: true},
		{in: "competitive", ok: false},
		{in: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			lo, hi, ok := parseSalary(tt.in)
			if ok != tt.ok || (ok && (!approx(lo, tt.lo) || !approx(hi, tt.hi))) {
				t.Fatalf("parseSalary(%q) = %v, %v, %v", tt.in, lo, hi, ok)
			}
		})
	}
}
