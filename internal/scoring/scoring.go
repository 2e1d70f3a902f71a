// Package scoring computes how well a posting matches the candidate profile.
//
// A score is the weighted mean of up to four terms, each in [0,1]:
// skill coverage, title similarity, location compatibility and salary overlap.
// Terms that cannot be computed (no profile skills, salary missing on either
// side) are left out of the mean instead of counting as zero.
package scoring

import (
	"math"
	"strings"

	"github.com/spigell/jobhunter/internal/jobs"
)

// Weights are the relative importance of each term. They need not sum to one.
type Weights struct {
	Skills   float64 `mapstructure:"skills"`
	Title    float64 `mapstructure:"title"`
	Location float64 `mapstructure:"location"`
	Salary   float64 `mapstructure:"salary"`
}

func DefaultWeights() Weights {
	return Weights{Skills: 0.45, Title: 0.25, Location: 0.15, Salary: 0.15}
}

// DefaultSynonyms maps a profile skill to the variants that count as a mention.
func DefaultSynonyms() map[string][]string {
	return map[string][]string{
		"python":           {"python", "py", "django", "flask", "fastapi"},
		"javascript":       {"javascript", "js", "node.js", "nodejs", "react", "vue", "angular"},
		"java":             {"java", "spring", "springboot"},
		"go":               {"go", "golang"},
		"docker":           {"docker", "containers", "containerization"},
		"kubernetes":       {"kubernetes", "k8s", "orchestration"},
		"aws":              {"aws", "amazon web services", "ec2", "s3", "lambda"},
		"sql":              {"sql", "mysql", "postgresql", "postgres", "database"},
		"machine learning": {"ml", "machine learning", "ai", "artificial intelligence"},
		"devops":           {"devops", "ci/cd", "jenkins", "gitlab"},
		"git":              {"git", "github", "gitlab", "version control"},
	}
}

var (
	genericRoles  = []string{"developer", "engineer", "programmer", "analyst"}
	remoteMarkers = []string{"remote", "remoto", "home office", "anywhere", "worldwide", "удаленная работа"}
)

const (
	neutral          = 0.5
	titleFull        = 1.0
	titlePartialMax  = 0.8
	titleGeneric     = 0.5
	titleMiss        = 0.2
	locationRemote   = 1.0
	locationPrefered = 0.9
	locationMiss     = 0.3
	salaryOverlap    = 1.0
	salaryAbove      = 0.8
	salaryBelow      = 0.3
)

type Engine struct {
	weights  Weights
	synonyms map[string][][]string
}

// New builds an engine. Nil synonyms fall back to DefaultSynonyms.
func New(weights Weights, synonyms map[string][]string) *Engine {
	if synonyms == nil {
		synonyms = DefaultSynonyms()
	}

	tokenized := make(map[string][][]string, len(synonyms))
	for skill, variants := range synonyms {
		key := strings.Join(tokenize(skill), " ")
		for _, v := range variants {
			if t := tokenize(v); len(t) > 0 {
				tokenized[key] = append(tokenized[key], t)
			}
		}
	}

	return &Engine{weights: weights, synonyms: tokenized}
}

func (e *Engine) Weights() Weights { return e.weights }

// Breakdown explains a score.
type Breakdown struct {
	Score         float64  `json:"score"`
	Skills        *float64 `json:"skills,omitempty"`
	Title         float64  `json:"title"`
	Location      float64  `json:"location"`
	Salary        *float64 `json:"salary,omitempty"`
	MatchedSkills []string `json:"matched_skills"`
	MissingSkills []string `json:"missing_skills"`
}

// Score is a pure function of posting, profile and the engine's weights.
func (e *Engine) Score(p jobs.Posting, profile jobs.Profile) float64 {
	return e.Explain(p, profile).Score
}

func (e *Engine) Explain(p jobs.Posting, profile jobs.Profile) Breakdown {
	title := tokenize(p.Title)
	text := append(append([]string{}, title...), tokenize(p.Description)...)

	b := Breakdown{
		Title:         e.titleTerm(title, profile.DesiredTitles),
		Location:      locationTerm(p, profile),
		MatchedSkills: []string{},
		MissingSkills: []string{},
	}

	var sum, weight float64
	add := func(w, v float64) {
		if w <= 0 {
			return
		}
		sum += w * v
		weight += w
	}

	if len(profile.Skills) > 0 {
		matched := 0
		for _, skill := range profile.Skills {
			if e.mentions(text, skill) {
				matched++
				b.MatchedSkills = append(b.MatchedSkills, skill)
			} else {
				b.MissingSkills = append(b.MissingSkills, skill)
			}
		}
		coverage := float64(matched) / float64(len(profile.Skills))
		b.Skills = &coverage
		add(e.weights.Skills, coverage)
	}

	add(e.weights.Title, b.Title)
	add(e.weights.Location, b.Location)

	if v, ok := salaryTerm(p, profile); ok {
		b.Salary = &v
		add(e.weights.Salary, v)
	}

	if weight > 0 {
		b.Score = clamp(sum / weight)
	}

	return b
}

func (e *Engine) mentions(text []string, skill string) bool {
	base := tokenize(skill)
	if containsPhrase(text, base) {
		return true
	}
	for _, variant := range e.synonyms[strings.Join(base, " ")] {
		if containsPhrase(text, variant) {
			return true
		}
	}
	return false
}

func (e *Engine) titleTerm(title []string, desired []string) float64 {
	if len(desired) == 0 {
		return neutral
	}

	best := 0.0
	for _, d := range desired {
		words := tokenize(d)
		if len(words) == 0 {
			continue
		}
		found := 0
		for _, w := range words {
			if containsPhrase(title, []string{w}) {
				found++
			}
		}
		if found == len(words) {
			return titleFull
		}
		if v := titlePartialMax * float64(found) / float64(len(words)); v > best {
			best = v
		}
	}

	for _, role := range genericRoles {
		if containsPhrase(title, []string{role}) && titleGeneric > best {
			best = titleGeneric
		}
	}

	if best == 0 {
		return titleMiss
	}
	return best
}

func locationTerm(p jobs.Posting, profile jobs.Profile) float64 {
	location := strings.ToLower(strings.TrimSpace(p.Location))
	if location == "" && !p.Remote {
		return neutral
	}

	if profile.RemoteOK && (p.Remote || containsAny(location, remoteMarkers)) {
		return locationRemote
	}

	for _, pref := range profile.Locations {
		pref = strings.ToLower(strings.TrimSpace(pref))
		if pref != "" && strings.Contains(location, pref) {
			return locationPrefered
		}
	}

	return locationMiss
}

// salaryTerm reports false when either side has no salary information.
func salaryTerm(p jobs.Posting, profile jobs.Profile) (float64, bool) {
	if profile.SalaryMin <= 0 && profile.SalaryMax <= 0 {
		return 0, false
	}

	lo, hi, ok := postingSalary(p)
	if !ok {
		return 0, false
	}

	want := profile.SalaryMax
	if want <= 0 {
		want = math.Inf(1)
	}

	switch {
	case hi < profile.SalaryMin:
		return salaryBelow, true
	case lo > want:
		return salaryAbove, true
	default:
		return salaryOverlap, true
	}
}

func postingSalary(p jobs.Posting) (float64, float64, bool) {
	switch {
	case p.SalaryMin != nil && p.SalaryMax != nil:
		return *p.SalaryMin, *p.SalaryMax, true
	case p.SalaryMin != nil:
		return *p.SalaryMin, *p.SalaryMin, true
	case p.SalaryMax != nil:
		return *p.SalaryMax, *p.SalaryMax, true
	}
	return parseSalary(p.Salary)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
