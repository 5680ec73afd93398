package output

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bisheshkhanal/ragebaiter/internal/aggregator"
	"github.com/bisheshkhanal/ragebaiter/internal/pipeline"
	"github.com/bisheshkhanal/ragebaiter/internal/stance"
)

const reportDirName = ".ragebaiter"

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Run describes one screening batch to report on.
type Run struct {
	ID        string
	ViewerID  string
	StartedAt time.Time
	Summary   aggregator.Summary
	// Posts indexes the screened posts by id for quoting in the report.
	Posts map[string]stance.Post
}

type Generator struct {
	outputDir string
}

func NewGenerator(outputDir string) *Generator {
	return &Generator{
		outputDir: outputDir,
	}
}

// Generate writes summary.md and one intervention-<post>.md per flagged post
// under <outputDir>/.ragebaiter/<run id>/ and returns the written paths.
func (g *Generator) Generate(run Run) ([]string, error) {
	runDir := filepath.Join(g.outputDir, reportDirName, sanitizeFilename(run.ID))
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	summaryFile := filepath.Join(runDir, "summary.md")
	if err := os.WriteFile(summaryFile, []byte(renderSummary(run)), 0644); err != nil {
		return nil, fmt.Errorf("failed to write summary: %w", err)
	}
	files := []string{summaryFile}

	for _, out := range run.Summary.Flagged {
		filename, err := g.writeInterventionFile(runDir, out, run.Posts[out.PostID])
		if err != nil {
			return nil, err
		}
		files = append(files, filename)
	}

	return files, nil
}

func renderSummary(run Run) string {
	s := run.Summary

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Screening report: %s\n\n", emptyFallback(run.ViewerID, "anonymous")))
	sb.WriteString(fmt.Sprintf("**Run:** %s\n", run.ID))
	sb.WriteString(fmt.Sprintf("**Started:** %s\n", run.StartedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("**Posts:** %d\n", s.Total))
	sb.WriteString(fmt.Sprintf("**Analyzed:** %d (%d from cache)\n", s.Analyzed, s.CacheHits))
	sb.WriteString(fmt.Sprintf("**Interventions:** %d\n", s.Interventions))
	sb.WriteString(fmt.Sprintf("**Suppressed by cooldown:** %d\n", s.Suppressed))
	sb.WriteString(fmt.Sprintf("**Errors:** %d\n", s.Errors))
	sb.WriteString(fmt.Sprintf("**Mean distance:** %.3f\n\n", s.MeanDistance))

	sb.WriteString("## Stages\n\n")
	sb.WriteString("| Stage | Posts |\n|---|---|\n")
	for _, stage := range sortedKeys(s.ByStage) {
		sb.WriteString(fmt.Sprintf("| %s | %d |\n", stage, s.ByStage[pipeline.Stage(stage)]))
	}
	sb.WriteString("\n")

	if len(s.ByLevel) > 0 {
		sb.WriteString("## Verdicts\n\n")
		sb.WriteString("| Level | Posts |\n|---|---|\n")
		for _, level := range []stance.Level{stance.LevelCritical, stance.LevelMedium, stance.LevelLow, stance.LevelNone} {
			if n := s.ByLevel[level]; n > 0 {
				sb.WriteString(fmt.Sprintf("| %s | %d |\n", level, n))
			}
		}
		sb.WriteString("\n")
	}

	if len(s.Flagged) > 0 {
		sb.WriteString("## Flagged posts\n\n")
		for _, out := range s.Flagged {
			v := out.Verdict
			sb.WriteString(fmt.Sprintf("- **%s** `%s` distance %.3f, %s\n",
				capitalize(string(v.Level)), out.PostID, v.Distance, truncate(run.Posts[out.PostID].Text, 80)))
		}
	}

	return sb.String()
}

func (g *Generator) writeInterventionFile(runDir string, out pipeline.Outcome, post stance.Post) (string, error) {
	filename := filepath.Join(runDir, fmt.Sprintf("intervention-%s.md", sanitizeFilename(out.PostID)))
	v := out.Verdict

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s: %s\n\n", capitalize(string(v.Level)), out.PostID))
	if post.URL != "" {
		sb.WriteString(fmt.Sprintf("**URL:** %s\n", post.URL))
	}
	sb.WriteString(fmt.Sprintf("**Stage:** %s\n", out.Stage))
	sb.WriteString(fmt.Sprintf("**Action:** %s\n", v.Action))
	sb.WriteString(fmt.Sprintf("**Distance:** %.3f\n", v.Distance))
	sb.WriteString(fmt.Sprintf("**Severity:** %s\n", v.Severity))
	sb.WriteString(fmt.Sprintf("**Weighted fallacy score:** %.2f\n", v.WeightedFallacyScore))
	if out.Err != "" {
		sb.WriteString(fmt.Sprintf("**Error:** %s\n", out.Err))
	}
	sb.WriteString("\n## Post\n\n")
	sb.WriteString(fmt.Sprintf("> %s\n\n", truncate(post.Text, 500)))

	if len(v.Trace.FallacyWeights) > 0 {
		sb.WriteString("## Fallacies\n\n")
		for _, f := range v.Trace.FallacyWeights {
			sb.WriteString(fmt.Sprintf("- %s (%.2f)\n", f.Name, f.Weight))
		}
		sb.WriteString("\n")
	}

	if iv := out.Intervention; iv != nil {
		sb.WriteString("## Intervention\n\n")
		sb.WriteString(iv.Reason + "\n\n")
		writeField(&sb, "Counter-argument", iv.CounterArgument)
		writeField(&sb, "Mechanism", iv.Mechanism)
		writeField(&sb, "Data check", iv.DataCheck)
		writeField(&sb, "Question", iv.ChallengeQuestion)
	}

	if err := os.WriteFile(filename, []byte(sb.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write intervention file: %w", err)
	}

	return filename, nil
}

func writeField(sb *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	sb.WriteString(fmt.Sprintf("- **%s:** %s\n", label, value))
}

func sortedKeys(m map[pipeline.Stage]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

func emptyFallback(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func sanitizeFilename(s string) string {
	result := unsafeChars.ReplaceAllString(s, "-")
	result = strings.Trim(result, "-")
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "unnamed"
	}
	return strings.ToLower(result)
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

func capitalize(s string) string {
	if len(s) == 0 {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
