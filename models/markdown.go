package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rohanthewiz/serr"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// Markdown Format
//
// Cards are stored remotely as a heading-based markdown outline:
//
//   ---
//   id: <uuid>
//   created: <RFC3339>
//   modified: <RFC3339>
//   ---
//
//   # Title
//
//   Free-form description (blank lines preserved verbatim).
//
//   ## Section Heading
//
//   - unordered item            1. ordered item       - [ ] open task
//   - another                   2. another            - [x] done task
//
// The pair SerializeCard/ParseCard round-trips id, title, sections, and the
// description exactly, including internal blank lines. Item checked state is
// only carried for checklist sections.
//
// Description prose may itself contain heading syntax. A description line
// starting with "## " is written with a leading backslash so it cannot be
// mistaken for a section boundary on parse; lines already carrying escape
// backslashes gain one more so unescaping restores them exactly.
// ============================================================================

var orderedItemRe = regexp.MustCompile(`^\d+\.\s+(.*)$`)
var escapedHeadingRe = regexp.MustCompile(`^\\+## `)

// cardFrontmatter is the YAML block between the leading --- delimiters.
// Timestamps are serialized as RFC3339Nano strings for a stable layout.
type cardFrontmatter struct {
	ID       string `yaml:"id"`
	Created  string `yaml:"created"`
	Modified string `yaml:"modified"`
}

// SerializeCard renders a card as markdown text.
func SerializeCard(c *Card) string {
	var b strings.Builder

	fm := cardFrontmatter{
		ID:       c.Meta.ID,
		Created:  c.Meta.Created.UTC().Format(time.RFC3339Nano),
		Modified: c.Meta.Modified.UTC().Format(time.RFC3339Nano),
	}
	fmBytes, _ := yaml.Marshal(fm) // struct of strings cannot fail to marshal

	b.WriteString("---\n")
	b.Write(fmBytes)
	b.WriteString("---\n")
	b.WriteString("\n# ")
	b.WriteString(c.Title)
	b.WriteString("\n")

	if c.Description != "" {
		b.WriteString("\n")
		b.WriteString(escapeDescription(c.Description))
		b.WriteString("\n")
	}

	for _, sec := range c.Sections {
		b.WriteString("\n## ")
		b.WriteString(sec.Heading)
		b.WriteString("\n\n")
		for i, item := range sec.Items {
			switch sec.Kind {
			case SectionOrdered:
				b.WriteString(fmt.Sprintf("%d. %s\n", i+1, item.Text))
			case SectionChecklist:
				mark := " "
				if item.Checked {
					mark = "x"
				}
				b.WriteString("- [" + mark + "] " + item.Text + "\n")
			default:
				b.WriteString("- " + item.Text + "\n")
			}
		}
	}

	return b.String()
}

// ParseCard converts markdown text back into a Card.
// The frontmatter id is required; timestamps fall back to zero values
// when absent or malformed rather than failing the whole document.
func ParseCard(text string) (*Card, error) {
	fm, body, err := splitFrontmatter(text)
	if err != nil {
		return nil, err
	}
	if fm.ID == "" {
		return nil, serr.New("card frontmatter is missing an id")
	}

	card := &Card{
		Meta: CardMeta{
			ID:       fm.ID,
			Created:  parseCardTime(fm.Created),
			Modified: parseCardTime(fm.Modified),
		},
	}

	lines := strings.Split(body, "\n")
	var descLines []string
	var current *Section
	inDescription := true

	flush := func() {
		if current != nil {
			card.Sections = append(card.Sections, *current)
			current = nil
		}
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "# ") && card.Title == "":
			card.Title = strings.TrimSpace(line[2:])

		case strings.HasPrefix(line, "## "):
			flush()
			inDescription = false
			current = &Section{
				Heading: strings.TrimSpace(line[3:]),
				Kind:    SectionUnordered,
				Items:   []Item{},
			}

		case current != nil:
			if item, kind, ok := parseItemLine(line); ok {
				if len(current.Items) == 0 {
					current.Kind = kind
				}
				current.Items = append(current.Items, item)
			}

		case inDescription && card.Title != "":
			if escapedHeadingRe.MatchString(line) {
				line = line[1:]
			}
			descLines = append(descLines, line)
		}
	}
	flush()

	card.Description = trimBlankEdges(descLines)
	return card, nil
}

// escapeDescription backslash-escapes description lines that would read
// as section headings on parse.
func escapeDescription(desc string) string {
	lines := strings.Split(desc, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "## ") || escapedHeadingRe.MatchString(line) {
			lines[i] = `\` + line
		}
	}
	return strings.Join(lines, "\n")
}

// splitFrontmatter separates the YAML block between leading --- delimiters
// from the markdown body. A document without frontmatter is all body.
func splitFrontmatter(text string) (cardFrontmatter, string, error) {
	var fm cardFrontmatter

	trimmed := strings.TrimLeft(text, "\n\r")
	if !strings.HasPrefix(trimmed, "---") {
		return fm, text, nil
	}

	rest := trimmed[3:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return fm, text, nil
	}

	if err := yaml.Unmarshal([]byte(rest[:idx]), &fm); err != nil {
		return fm, "", serr.Wrap(err, "invalid card frontmatter")
	}

	body := rest[idx+len("\n---"):]
	// Drop the remainder of the delimiter line.
	if i := strings.Index(body, "\n"); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return fm, body, nil
}

// parseItemLine recognizes the three list item forms and reports the
// section kind the line implies.
func parseItemLine(line string) (Item, SectionKind, bool) {
	trimmed := strings.TrimRight(line, " \t")

	switch {
	case strings.HasPrefix(trimmed, "- [ ] "):
		return Item{Text: trimmed[6:]}, SectionChecklist, true
	case strings.HasPrefix(trimmed, "- [x] "), strings.HasPrefix(trimmed, "- [X] "):
		return Item{Text: trimmed[6:], Checked: true}, SectionChecklist, true
	case strings.HasPrefix(trimmed, "- "):
		return Item{Text: trimmed[2:]}, SectionUnordered, true
	}

	if m := orderedItemRe.FindStringSubmatch(trimmed); m != nil {
		return Item{Text: m[1]}, SectionOrdered, true
	}
	return Item{}, SectionUnordered, false
}

// trimBlankEdges joins description lines, stripping leading and trailing
// blank lines while keeping internal blank lines exactly as written.
func trimBlankEdges(lines []string) string {
	start := 0
	end := len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

func parseCardTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
