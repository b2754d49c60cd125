package importer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/cleared-dev/concilia/internal/model"
)

// MaxBlockBytes bounds one <STMTTRN> block. Larger blocks are rejected
// rather than buffered.
const MaxBlockBytes = 64 << 10

const maxTagLen = 256

// OFXParser reads OFX/QFX statements, both SGML (v1, unclosed value tags)
// and XML (v2). Each <STMTTRN> aggregate becomes one record; nested
// aggregates such as <PAYEE> are flattened into the same record.
type OFXParser struct{}

// Format returns the parser name.
func (p *OFXParser) Format() string { return model.FormatOFX }

// Records streams the transaction blocks of an OFX file.
func (p *OFXParser) Records(ctx context.Context, r io.Reader, fm model.FieldMap) iter.Seq2[model.RawRecord, error] {
	return func(yield func(model.RawRecord, error) bool) {
		tr := &tagReader{br: bufio.NewReader(r)}
		var (
			blocks int
			cur    *ofxBlock
		)

		// finish closes the current block and yields it. Returns false when
		// the consumer stopped.
		finish := func(reason string) bool {
			b := cur
			cur = nil
			if reason == "" {
				reason = b.broken
			}
			if reason != "" {
				return yield(model.RawRecord{}, &BlockError{Position: b.position, Reason: reason, Raw: b.raw.String()})
			}
			return yield(model.RawRecord{
				Position: b.position,
				Fields:   project(fm, b.values),
				Text:     b.raw.String(),
			}, nil)
		}

		start := func(broken string) bool {
			if err := ctx.Err(); err != nil {
				yield(model.RawRecord{}, err)
				return false
			}
			blocks++
			cur = newOFXBlock(blocks)
			cur.broken = broken
			return true
		}

		for {
			tok, err := tr.next()
			if errors.Is(err, io.EOF) {
				break
			}
			var mt *malformedTagError
			if errors.As(err, &mt) {
				if cur != nil {
					cur.append(mt.raw)
					if cur.broken == "" {
						cur.broken = mt.Error()
					}
					continue
				}
				if strings.HasPrefix(strings.ToUpper(mt.name), "STMTTRN") {
					if !start(mt.Error()) {
						return
					}
					cur.append(mt.raw)
				}
				continue
			}
			if err != nil {
				yield(model.RawRecord{}, fmt.Errorf("reading OFX: %w", err))
				return
			}

			switch {
			case tok.kind == tokOpen && tok.name == "STMTTRN":
				if cur != nil {
					if !finish("block not terminated before next <STMTTRN>") {
						return
					}
				}
				if !start("") {
					return
				}
				cur.append(tok.raw)
			case cur == nil:
				// Outside a transaction block: headers, balances, signon.
			case tok.kind == tokClose && tok.name == "STMTTRN":
				cur.append(tok.raw)
				if !finish("") {
					return
				}
			default:
				cur.add(tok)
			}
		}

		if cur != nil {
			if !finish("block not terminated at end of file") {
				return
			}
		}
		if blocks == 0 {
			yield(model.RawRecord{}, &model.StructuralParseError{
				Format: model.FormatOFX,
				Reason: "no <STMTTRN> transaction blocks found",
			})
		}
	}
}

type ofxBlock struct {
	position int
	values   map[string]string
	current  string
	raw      strings.Builder
	broken   string
}

func newOFXBlock(position int) *ofxBlock {
	return &ofxBlock{position: position, values: make(map[string]string)}
}

func (b *ofxBlock) append(s string) {
	if b.raw.Len()+len(s) > MaxBlockBytes {
		if b.broken == "" {
			b.broken = fmt.Sprintf("block exceeds %d bytes", MaxBlockBytes)
		}
		return
	}
	b.raw.WriteString(s)
}

func (b *ofxBlock) add(tok ofxToken) {
	b.append(tok.raw)
	switch tok.kind {
	case tokOpen:
		b.current = tok.name
	case tokClose:
		b.current = ""
	case tokText:
		v := strings.TrimSpace(tok.raw)
		if b.current == "" || v == "" {
			return
		}
		// SGML value tags have no close tag: the value ends at the next tag.
		if _, seen := b.values[b.current]; !seen {
			b.values[b.current] = decodeEntities(v)
		}
		b.current = ""
	}
}

type tokenKind int

const (
	tokText tokenKind = iota
	tokOpen
	tokClose
	tokOther // processing instructions, comments
)

type ofxToken struct {
	kind tokenKind
	name string // upper-cased tag name
	raw  string
}

type malformedTagError struct {
	name string
	raw  string
}

func (e *malformedTagError) Error() string {
	return fmt.Sprintf("malformed tag %q: missing '>'", e.name)
}

// tagReader splits an OFX stream into tags and text without buffering more
// than one token.
type tagReader struct {
	br *bufio.Reader
}

func (t *tagReader) next() (ofxToken, error) {
	c, err := t.br.ReadByte()
	if err != nil {
		return ofxToken{}, err
	}
	if c != '<' {
		_ = t.br.UnreadByte()
		return t.text()
	}
	return t.tag()
}

func (t *tagReader) text() (ofxToken, error) {
	var b strings.Builder
	for {
		c, err := t.br.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ofxToken{}, err
		}
		if c == '<' {
			_ = t.br.UnreadByte()
			break
		}
		if b.Len() < MaxBlockBytes {
			b.WriteByte(c)
		}
	}
	return ofxToken{kind: tokText, raw: b.String()}, nil
}

func (t *tagReader) tag() (ofxToken, error) {
	var b strings.Builder
	b.WriteByte('<')
	for {
		c, err := t.br.ReadByte()
		if errors.Is(err, io.EOF) {
			return ofxToken{}, &malformedTagError{name: tagName(b.String()), raw: b.String()}
		}
		if err != nil {
			return ofxToken{}, err
		}
		if c == '<' || c == '\n' || b.Len() > maxTagLen {
			if c == '<' {
				_ = t.br.UnreadByte()
			}
			return ofxToken{}, &malformedTagError{name: tagName(b.String()), raw: b.String()}
		}
		b.WriteByte(c)
		if c == '>' {
			break
		}
	}

	raw := b.String()
	inner := strings.TrimSuffix(strings.TrimPrefix(raw, "<"), ">")
	switch {
	case strings.HasPrefix(inner, "?"), strings.HasPrefix(inner, "!"):
		return ofxToken{kind: tokOther, raw: raw}, nil
	case strings.HasPrefix(inner, "/"):
		return ofxToken{kind: tokClose, name: tagName(inner[1:]), raw: raw}, nil
	default:
		return ofxToken{kind: tokOpen, name: tagName(inner), raw: raw}, nil
	}
}

func tagName(s string) string {
	s = strings.TrimPrefix(s, "<")
	if f := strings.Fields(s); len(f) > 0 {
		return strings.ToUpper(f[0])
	}
	return ""
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&nbsp;", " ",
)

func decodeEntities(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return entityReplacer.Replace(s)
}
