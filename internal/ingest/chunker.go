// Package ingest turns the fetched rulebook and glossary into embedded,
// stored documents. Document IDs are assigned sequentially in corpus order,
// so neighboring IDs are neighboring passages; context expansion at query
// time depends on that.
package ingest

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// DefaultChunkSize bounds chunk length in characters.
const DefaultChunkSize = 1500

// ruleBoundary matches a rule number starting a line, the natural split
// point inside a section.
var ruleBoundary = regexp.MustCompile(`(?m)^[A-Z]?\d+(?:\.[A-Z]+)?(?:\.\d+)?(?:\.[a-z])?(?:\.\d+)?(?:\.\d+)?\.(?:\s|$)`)

// Chunker splits markdown sources into retrieval-sized chunks. Sections
// come from the document's heading structure; oversized sections are split
// further at rule boundaries.
type Chunker struct {
	parser    goldmark.Markdown
	chunkSize int
}

// NewChunker creates a Chunker. A chunkSize of 0 uses DefaultChunkSize.
func NewChunker(chunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Chunker{parser: md, chunkSize: chunkSize}
}

// ChunkRulebook splits the rulebook into ordered chunks. Headings define
// sections; sections longer than the chunk size are split at rule-number
// boundaries, packing consecutive rules greedily.
func (c *Chunker) ChunkRulebook(source string) ([]string, error) {
	sections, err := c.sections([]byte(source))
	if err != nil {
		return nil, err
	}

	var chunks []string
	for _, section := range sections {
		chunks = append(chunks, c.packSection(section)...)
	}
	return chunks, nil
}

// ChunkGlossary splits glossary text into one chunk per definition entry.
// Entries are blank-line separated with the term on the first line.
func (c *Chunker) ChunkGlossary(source string) []string {
	var chunks []string
	for _, block := range strings.Split(source, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		chunks = append(chunks, block)
	}
	return chunks
}

// sections splits the source at H1/H2 boundaries using the heading tree.
// A document without headings is one section.
func (c *Chunker) sections(source []byte) ([]string, error) {
	reader := text.NewReader(source)
	doc := c.parser.Parser().Parse(reader)

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect headings: %w", err)
	}
	if len(tree.Items) == 0 {
		return []string{string(source)}, nil
	}

	var out []string
	c.collectSections(doc, source, tree.Items, &out)
	return out, nil
}

func (c *Chunker) collectSections(doc ast.Node, source []byte, items toc.Items, out *[]string) {
	for i, item := range items {
		headerNode := findHeaderByID(doc, string(item.ID))
		if headerNode == nil {
			continue
		}

		start := headerNode.Lines().At(0)
		var end text.Segment
		if i+1 < len(items) {
			if next := findHeaderByID(doc, string(items[i+1].ID)); next != nil {
				end = next.Lines().At(0)
			}
		} else {
			end = nextHeaderBoundary(doc, headerNode, headerNode.(*ast.Heading).Level)
		}

		// child headings carve this section further
		if len(item.Items) > 0 {
			if first := findHeaderByID(doc, string(item.Items[0].ID)); first != nil {
				end = first.Lines().At(0)
			}
		}

		if section := sliceSource(source, start, end); section != "" {
			*out = append(*out, section)
		}
		if len(item.Items) > 0 {
			c.collectSections(doc, source, item.Items, out)
		}
	}
}

// packSection splits one section at rule boundaries and packs consecutive
// rules into chunks up to the size limit. A single oversized rule stays
// whole; splitting mid-rule would break the parser downstream.
func (c *Chunker) packSection(section string) []string {
	section = strings.TrimSpace(section)
	if section == "" {
		return nil
	}
	if len(section) <= c.chunkSize {
		return []string{section}
	}

	bounds := ruleBoundary.FindAllStringIndex(section, -1)
	if len(bounds) == 0 {
		return []string{section}
	}

	var segments []string
	if bounds[0][0] > 0 {
		if head := strings.TrimSpace(section[:bounds[0][0]]); head != "" {
			segments = append(segments, head)
		}
	}
	for i, b := range bounds {
		end := len(section)
		if i+1 < len(bounds) {
			end = bounds[i+1][0]
		}
		if seg := strings.TrimSpace(section[b[0]:end]); seg != "" {
			segments = append(segments, seg)
		}
	}

	var chunks []string
	var cur strings.Builder
	for _, seg := range segments {
		if cur.Len() > 0 && cur.Len()+len(seg)+1 > c.chunkSize {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(seg)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

func findHeaderByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			headingID, ok := n.AttributeString("id")
			if ok && string(headingID.([]byte)) == id {
				found = n
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}

func nextHeaderBoundary(root ast.Node, current ast.Node, currentLevel int) text.Segment {
	var next ast.Node
	foundCurrent := false

	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if n.Kind() == ast.KindHeading {
			if !foundCurrent {
				if n == current {
					foundCurrent = true
				}
				return ast.WalkContinue, nil
			}
			if n.(*ast.Heading).Level <= currentLevel {
				next = n
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})

	if next != nil {
		return next.Lines().At(0)
	}
	return text.Segment{}
}

func sliceSource(source []byte, start, end text.Segment) string {
	var buf bytes.Buffer
	if end.Start == 0 && end.Stop == 0 {
		buf.Write(source[start.Start:])
	} else {
		buf.Write(source[start.Start:end.Start])
	}
	return strings.TrimSpace(buf.String())
}
