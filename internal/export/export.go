package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"analyst-chat/internal/content"
	"analyst-chat/internal/session"
)

// Resolver maps a resource reference of an assistant message to its URL.
// An empty result means the resource cannot be located.
type Resolver func(sessionID, runID, name string) string

type Exporter struct {
	dir string
	cwd string
}

func New(dir string) (*Exporter, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve cwd: %w", err)
	}
	return &Exporter{dir: strings.TrimSpace(dir), cwd: cwd}, nil
}

func (e *Exporter) Export(s session.Session, resolve Resolver) (string, error) {
	path := e.outputPath(s)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	body := BuildTranscriptMarkdown(s, resolve)
	md := BuildSessionMarkdown(s, body, time.Now().UTC())
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return path, nil
}

func BuildTranscriptMarkdown(s session.Session, resolve Resolver) string {
	var b strings.Builder
	for _, m := range s.Messages {
		switch m.Role {
		case session.RoleUser:
			text := strings.TrimSpace(m.Content)
			if text == "" && len(m.FileNames) == 0 {
				continue
			}
			b.WriteString("## You\n\n")
			if text != "" {
				b.WriteString(text + "\n\n")
			}
			if len(m.FileNames) > 0 {
				b.WriteString("Attached: " + strings.Join(m.FileNames, ", ") + "\n\n")
			}
		case session.RoleAssistant:
			rendered := content.Render(m.Content, nil, func(name string) string {
				return figureMarkdown(s.ID, m.RunID, name, resolve)
			})
			if strings.TrimSpace(rendered) == "" {
				continue
			}
			b.WriteString("## Analyst\n\n")
			b.WriteString(rendered + "\n\n")
		}
	}
	return strings.TrimSpace(b.String()) + "\n"
}

func figureMarkdown(sessionID, runID, name string, resolve Resolver) string {
	url := ""
	if resolve != nil {
		url = resolve(sessionID, runID, name)
	}
	if url == "" {
		return "*[ Diagram Not Found: " + name + " ]*"
	}
	return fmt.Sprintf("![%s chart: %s](%s)", content.ChartKind(name), name, url)
}

type sessionMeta struct {
	MessageCount int    `yaml:"message_count"`
	Figures      int    `yaml:"figures"`
	Started      string `yaml:"started"`
}

func BuildSessionMarkdown(s session.Session, transcript string, now time.Time) string {
	figures := 0
	for _, m := range s.Messages {
		if m.Role == session.RoleAssistant {
			figures += len(content.References(m.Content))
		}
	}

	meta, err := yaml.Marshal(sessionMeta{
		MessageCount: len(s.Messages),
		Figures:      figures,
		Started:      s.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		meta = []byte(fmt.Sprintf("message_count: %d\nfigures: %d\n", len(s.Messages), figures))
	}

	var b strings.Builder
	b.WriteString("# " + safeValue(s.Title) + " session " + s.ID + "\n\n")
	b.WriteString("Exported: " + now.Format(time.RFC3339) + "\n\n")
	b.WriteString("```yaml\n")
	b.Write(meta)
	b.WriteString("```\n\n")
	b.WriteString(transcript)
	if !strings.HasSuffix(transcript, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

func (e *Exporter) outputPath(s session.Session) string {
	dir := e.dir
	if dir == "" {
		dir = "exports"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(e.cwd, dir)
	}
	return filepath.Join(dir, safeFileName(s.ID)+".md")
}

func safeFileName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "session"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return replacer.Replace(s)
}

func safeValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "n/a"
	}
	return s
}
