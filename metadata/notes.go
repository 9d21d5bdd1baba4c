package metadata

import (
	"strings"

	conventionalcommits "github.com/leodido/go-conventionalcommits"
	"github.com/leodido/go-conventionalcommits/parser"
)

// BuildNotes renders release notes from the commit subjects between the
// previous and the new tag. Subjects following the conventional-commit
// convention are grouped into features and fixes; everything else lands in
// a catch-all section. Subjects that fail to parse are kept, not dropped:
// notes must account for every commit in the range.
func BuildNotes(subjects []string) string {
	machine := parser.NewMachine(conventionalcommits.WithTypes(conventionalcommits.TypesConventional))

	var features, fixes, other []string
	for _, subject := range subjects {
		subject = strings.TrimSpace(subject)
		if subject == "" {
			continue
		}

		msg, err := machine.Parse([]byte(subject))
		if err != nil {
			other = append(other, subject)
			continue
		}
		commit, ok := msg.(*conventionalcommits.ConventionalCommit)
		if !ok {
			other = append(other, subject)
			continue
		}

		entry := commit.Description
		if commit.Scope != nil && *commit.Scope != "" {
			entry = "**" + *commit.Scope + "**: " + entry
		}
		if commit.Exclamation {
			entry = entry + " (breaking)"
		}

		switch commit.Type {
		case "feat":
			features = append(features, entry)
		case "fix":
			fixes = append(fixes, entry)
		default:
			other = append(other, subject)
		}
	}

	var b strings.Builder
	writeSection(&b, "Features", features)
	writeSection(&b, "Fixes", fixes)
	writeSection(&b, "Other changes", other)

	notes := strings.TrimRight(b.String(), "\n")
	if notes == "" {
		return "No changes recorded."
	}
	return notes + "\n"
}

// writeSection appends a markdown section when it has entries.
func writeSection(b *strings.Builder, title string, entries []string) {
	if len(entries) == 0 {
		return
	}
	b.WriteString("## " + title + "\n\n")
	for _, entry := range entries {
		b.WriteString("- " + entry + "\n")
	}
	b.WriteString("\n")
}
