package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"straznik/internal/diff"
	"straznik/internal/snapshot"
	"straznik/internal/transport"
)

// Record colors.
const (
	colorCreated  = 0x2ecc71
	colorDeleted  = 0xe74c3c
	colorUpdated  = 0x3498db
	colorRed      = 0xFF0000
	colorGreen    = 0x00FF00
	colorEdited   = 0xFFA500
	colorMoved    = 0xF1C40F
	fieldMaxRunes = 1024
	descMaxRunes  = 4096
)

const (
	textUnknown     = "Nieznany"
	textNoContent   = "Brak treści"
	textUnavailable = "Treść nie jest dostępna (wiadomość częściowa)"
	textNone        = "Brak"
)

func userMention(id string) string {
	if id == "" {
		return textUnknown
	}
	return "<@" + id + ">"
}

func channelMention(id string) string { return "<#" + id + ">" }

func contentText(s string) string {
	switch s {
	case snapshot.Unavailable:
		return textUnavailable
	case "":
		return textNoContent
	}
	return clip(s, fieldMaxRunes)
}

// clip shortens s to at most n runes, marking the cut with an ellipsis.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

func field(name, value string, inline bool) transport.Field {
	return transport.Field{Name: name, Value: value, Inline: inline}
}

func subjectWord(k snapshot.SubjectKind) string {
	if k == snapshot.SubjectRole {
		return "roli"
	}
	return "użytkownika"
}

// changeLines renders role and channel diffs as one line per change.
// Attributes without a wording are skipped.
func changeLines(changes []diff.Change) []string {
	var lines []string
	for _, c := range changes {
		switch c.Section {
		case diff.SectionScalar:
			if c.Kind != diff.Changed {
				continue
			}
			switch c.Attr {
			case snapshot.AttrName:
				lines = append(lines, fmt.Sprintf(`Nazwa zmieniona z "%s" na "%s"`, c.Old, c.New))
			case snapshot.AttrColor:
				lines = append(lines, fmt.Sprintf(`Kolor zmieniony z "%s" na "%s"`, c.Old, c.New))
			}
		case diff.SectionSet:
			if c.Attr != snapshot.AttrPermissions {
				continue
			}
			list := strings.Join(c.Entries, ", ")
			if c.Kind == diff.SetAdded {
				lines = append(lines, "Dodano uprawnienia: "+list)
			} else {
				lines = append(lines, "Usunięto uprawnienia: "+list)
			}
		case diff.SectionOverwrite:
			who := subjectWord(c.SubjectKind)
			list := strings.Join(c.Entries, ", ")
			switch c.Kind {
			case diff.OverwriteAdded:
				lines = append(lines, fmt.Sprintf("Dodano nowe uprawnienia dla %s o ID %s.", who, c.Subject))
			case diff.OverwriteRemoved:
				lines = append(lines, fmt.Sprintf("Usunięto uprawnienia dla %s o ID %s.", who, c.Subject))
			case diff.AllowAdded:
				lines = append(lines, fmt.Sprintf("Dla %s %s dodano uprawnienia: %s", who, c.Subject, list))
			case diff.AllowRemoved:
				lines = append(lines, fmt.Sprintf("Dla %s %s usunięto uprawnienia: %s", who, c.Subject, list))
			case diff.DenyAdded:
				lines = append(lines, fmt.Sprintf("Dla %s %s dodano zakazy: %s", who, c.Subject, list))
			case diff.DenyRemoved:
				lines = append(lines, fmt.Sprintf("Dla %s %s usunięto zakazy: %s", who, c.Subject, list))
			}
		}
	}
	return lines
}

func permissionsText(perms []string) string {
	if len(perms) == 0 {
		return textNone
	}
	return strings.Join(perms, ", ")
}
