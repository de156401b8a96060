// Package markup converts the small HTML subset used for Telegram messages into plain
// text with UTF-16 entities and back, and splits it into length-limited parts.
package markup

import (
	"sort"
	"strings"
	"unicode/utf16"

	"golang.org/x/net/html"
)

// EntityType is a Telegram message entity type.
type EntityType string

const (
	Bold          EntityType = "bold"
	Italic        EntityType = "italic"
	Underline     EntityType = "underline"
	Strikethrough EntityType = "strikethrough"
	Spoiler       EntityType = "spoiler"
	Code          EntityType = "code"
	Pre           EntityType = "pre"
	Blockquote    EntityType = "blockquote"
	TextLink      EntityType = "text_link"
)

var tagEntities = map[string]EntityType{
	"b":          Bold,
	"strong":     Bold,
	"i":          Italic,
	"em":         Italic,
	"u":          Underline,
	"ins":        Underline,
	"s":          Strikethrough,
	"strike":     Strikethrough,
	"del":        Strikethrough,
	"tg-spoiler": Spoiler,
	"code":       Code,
	"pre":        Pre,
	"blockquote": Blockquote,
	"a":          TextLink,
}

var entityTags = map[EntityType]string{
	Bold:          "b",
	Italic:        "i",
	Underline:     "u",
	Strikethrough: "s",
	Spoiler:       "tg-spoiler",
	Code:          "code",
	Pre:           "pre",
	Blockquote:    "blockquote",
	TextLink:      "a",
}

// Entity is a formatted span. Offset and Length are in UTF-16 code units, as the
// Bot API expects.
type Entity struct {
	Type   EntityType
	Offset int
	Length int
	URL    string
}

// End returns the offset just past the entity.
func (e Entity) End() int {
	return e.Offset + e.Length
}

// Part is plain text with its entities.
type Part struct {
	Text     string
	Entities []Entity
}

// Len returns the text length in UTF-16 code units.
func (p Part) Len() int {
	return utf16Len(p.Text)
}

type openTag struct {
	tag    string
	typ    EntityType
	offset int
	url    string
}

// Parse converts markup into plain text and entities. Unknown tags are dropped but
// their text is kept; unclosed tags end at the end of the text.
func Parse(s string) Part {
	var (
		text     strings.Builder
		pos      int
		stack    []openTag
		entities []Entity
	)

	closeTag := func(i int) {
		t := stack[i]
		stack = append(stack[:i], stack[i+1:]...)
		if pos > t.offset && (t.typ != TextLink || t.url != "") {
			entities = append(entities, Entity{Type: t.typ, Offset: t.offset, Length: pos - t.offset, URL: t.url})
		}
	}

	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}

		switch tt {
		case html.TextToken:
			chunk := string(z.Text())
			text.WriteString(chunk)
			pos += utf16Len(chunk)

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if tag == "br" {
				text.WriteByte('\n')
				pos++
				continue
			}
			typ, ok := tagEntities[tag]
			if !ok || tt == html.SelfClosingTagToken {
				continue
			}
			t := openTag{tag: tag, typ: typ, offset: pos}
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if string(key) == "href" {
					t.url = string(val)
				}
			}
			stack = append(stack, t)

		case html.EndTagToken:
			name, _ := z.TagName()
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].tag == string(name) {
					closeTag(i)
					break
				}
			}
		}
	}

	for len(stack) > 0 {
		closeTag(len(stack) - 1)
	}

	sortEntities(entities)
	return Part{Text: text.String(), Entities: entities}
}

// Unparse renders plain text and entities as markup.
func Unparse(p Part) string {
	if len(p.Entities) == 0 {
		return html.EscapeString(p.Text)
	}

	entities := make([]Entity, len(p.Entities))
	copy(entities, p.Entities)
	sortEntities(entities)

	var (
		b    strings.Builder
		open []Entity
		pos  int
		next int
	)

	flush := func() {
		for len(open) > 0 && open[len(open)-1].End() <= pos {
			b.WriteString("</" + entityTags[open[len(open)-1].Type] + ">")
			open = open[:len(open)-1]
		}
		for next < len(entities) && entities[next].Offset <= pos {
			e := entities[next]
			next++
			tag := entityTags[e.Type]
			if tag == "" {
				continue
			}
			if e.Type == TextLink {
				b.WriteString(`<a href="` + html.EscapeString(e.URL) + `">`)
			} else {
				b.WriteString("<" + tag + ">")
			}
			open = append(open, e)
		}
	}

	for _, r := range p.Text {
		flush()
		b.WriteString(html.EscapeString(string(r)))
		pos += runeLen(r)
	}
	flush()
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString("</" + entityTags[open[i].Type] + ">")
	}

	return b.String()
}

// Concat joins two parts, shifting the entities of b.
func Concat(a, b Part) Part {
	shift := a.Len()
	entities := make([]Entity, 0, len(a.Entities)+len(b.Entities))
	entities = append(entities, a.Entities...)
	for _, e := range b.Entities {
		e.Offset += shift
		entities = append(entities, e)
	}
	return Part{Text: a.Text + b.Text, Entities: entities}
}

func sortEntities(entities []Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Offset != entities[j].Offset {
			return entities[i].Offset < entities[j].Offset
		}
		return entities[i].Length > entities[j].Length
	})
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeLen(r)
	}
	return n
}

func runeLen(r rune) int {
	if utf16.RuneLen(r) == 2 {
		return 2
	}
	return 1
}
