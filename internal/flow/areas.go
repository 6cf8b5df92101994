package flow

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// AreaSynonyms maps a canonical legal area to the words that select it.
type AreaSynonyms struct {
	Canonical string   `yaml:"canonical"`
	Synonyms  []string `yaml:"synonyms"`
}

// DefaultAreaSynonyms is the built-in legal area table, matched in order.
var DefaultAreaSynonyms = []AreaSynonyms{
	{Canonical: "Penal", Synonyms: []string{"penal", "criminal", "crime", "crimes", "direito penal"}},
	{Canonical: "Saúde Liminar", Synonyms: []string{"saude liminar", "saude", "liminar", "plano de saude"}},
	{Canonical: "Trabalhista", Synonyms: []string{"trabalhista", "trabalho", "clt", "demissao"}},
	{Canonical: "Família", Synonyms: []string{"familia", "divorcio", "pensao", "guarda"}},
	{Canonical: "Cível", Synonyms: []string{"civel", "civil"}},
	{Canonical: "Consumidor", Synonyms: []string{"consumidor"}},
	{Canonical: "Tributário", Synonyms: []string{"tributario", "imposto"}},
	{Canonical: "Previdenciário", Synonyms: []string{"previdenciario", "inss", "aposentadoria"}},
}

// AreaTable normalizes free-text legal area answers.
type AreaTable struct {
	entries []areaEntry
}

type areaEntry struct {
	canonical string
	words     []string // folded single-word synonyms
	phrases   []string // folded multi-word synonyms, space padded
}

// NewAreaTable builds a table from synonyms; the canonical name always matches itself.
func NewAreaTable(synonyms []AreaSynonyms) *AreaTable {
	t := &AreaTable{}
	for _, s := range synonyms {
		e := areaEntry{canonical: s.Canonical}
		for _, syn := range append([]string{s.Canonical}, s.Synonyms...) {
			tokens := tokenize(foldAccents(syn))
			switch len(tokens) {
			case 0:
			case 1:
				e.words = append(e.words, tokens[0])
			default:
				e.phrases = append(e.phrases, " "+strings.Join(tokens, " ")+" ")
			}
		}
		t.entries = append(t.entries, e)
	}
	return t
}

// Normalize returns the canonical area for raw, or raw trimmed when nothing matches.
func (t *AreaTable) Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	tokens := tokenize(foldAccents(trimmed))
	if len(tokens) == 0 {
		return trimmed
	}
	padded := " " + strings.Join(tokens, " ") + " "
	for _, e := range t.entries {
		for _, p := range e.phrases {
			if strings.Contains(padded, p) {
				return e.canonical
			}
		}
		for _, w := range e.words {
			for _, tok := range tokens {
				if tok == w {
					return e.canonical
				}
			}
		}
	}
	return trimmed
}

// foldAccents lower-cases s and strips combining marks ("Saúde" -> "saude").
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
