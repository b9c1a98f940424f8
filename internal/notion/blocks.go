package notion

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jomei/notionapi"

	"github.com/fedutinova/meetnotes/internal/common"
	"github.com/fedutinova/meetnotes/internal/job"
)

const (
	// maxTextContent is Notion's limit for one rich text object.
	maxTextContent = 2000
	// maxRichText is Notion's limit of rich text objects per block.
	maxRichText = 100
)

func text(s string) notionapi.RichText {
	return notionapi.RichText{Text: &notionapi.Text{Content: s}}
}

// richText splits s into objects under the per-object length limit without
// cutting a rune in half.
func richText(s string) []notionapi.RichText {
	if utf8.RuneCountInString(s) <= maxTextContent {
		return []notionapi.RichText{text(s)}
	}
	var out []notionapi.RichText
	for len(s) > 0 {
		n, count := 0, 0
		for n < len(s) && count < maxTextContent {
			_, size := utf8.DecodeRuneInString(s[n:])
			n += size
			count++
		}
		out = append(out, text(s[:n]))
		s = s[n:]
	}
	return out
}

func basic(kind notionapi.BlockType) notionapi.BasicBlock {
	return notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: kind}
}

func heading2(s string) notionapi.Block {
	return &notionapi.Heading2Block{
		BasicBlock: basic(notionapi.BlockTypeHeading2),
		Heading2:   notionapi.Heading{RichText: richText(s)},
	}
}

func heading3(s string) notionapi.Block {
	return &notionapi.Heading3Block{
		BasicBlock: basic(notionapi.BlockTypeHeading3),
		Heading3:   notionapi.Heading{RichText: richText(s)},
	}
}

func todo(s string) notionapi.Block {
	return &notionapi.ToDoBlock{
		BasicBlock: basic(notionapi.BlockTypeToDo),
		ToDo:       notionapi.ToDo{RichText: richText(s)},
	}
}

func bullet(s string) notionapi.Block {
	return &notionapi.BulletedListItemBlock{
		BasicBlock:       basic(notionapi.BlockTypeBulletedListItem),
		BulletedListItem: notionapi.ListItem{RichText: richText(s)},
	}
}

// paragraphs spreads s over as many paragraph blocks as the per-block rich
// text limit needs.
func paragraphs(s string) []notionapi.Block {
	parts := richText(s)
	var out []notionapi.Block
	for start := 0; start < len(parts); start += maxRichText {
		end := min(start+maxRichText, len(parts))
		out = append(out, &notionapi.ParagraphBlock{
			BasicBlock: basic(notionapi.BlockTypeParagraph),
			Paragraph:  notionapi.Paragraph{RichText: parts[start:end]},
		})
	}
	return out
}

type noteLayout struct {
	header     []notionapi.Block
	actions    []string
	decisions  []string
	transcript []notionapi.Block
}

func (l noteLayout) blocks(compact bool) []notionapi.Block {
	out := append([]notionapi.Block(nil), l.header...)
	if len(l.actions) > 0 {
		out = append(out, heading3("Action Items"))
		if compact {
			out = append(out, paragraphs("☐ "+strings.Join(l.actions, "\n☐ "))...)
		} else {
			for _, a := range l.actions {
				out = append(out, todo(a))
			}
		}
	}
	if len(l.decisions) > 0 {
		out = append(out, heading3("Decisions Made"))
		if compact {
			out = append(out, paragraphs("• "+strings.Join(l.decisions, "\n• "))...)
		} else {
			for _, d := range l.decisions {
				out = append(out, bullet(d))
			}
		}
	}
	if len(l.transcript) > 0 {
		out = append(out, heading3("Full Transcript"))
		out = append(out, l.transcript...)
	}
	return out
}

// RenderNote lays a note out as page blocks headed by the meeting time. Notes
// with too many list entries for one append have their lists folded into
// paragraphs; a note that still does not fit is rejected.
func RenderNote(note *job.Note, at time.Time) ([]notionapi.Block, error) {
	summary := note.Summary
	if summary == "" {
		summary = "No summary available"
	}
	layout := noteLayout{
		header: append([]notionapi.Block{heading2("Meeting Notes - " + at.Format("2006-01-02 15:04:05"))},
			paragraphs(summary)...),
		decisions: note.Decisions,
	}
	for _, item := range note.ActionItems {
		if line := item.Line(); line != "" {
			layout.actions = append(layout.actions, line)
		}
	}
	if note.Transcript != "" {
		layout.transcript = paragraphs(note.Transcript)
	}

	blocks := layout.blocks(false)
	if len(blocks) <= maxChildren {
		return blocks, nil
	}
	blocks = layout.blocks(true)
	if len(blocks) <= maxChildren {
		return blocks, nil
	}
	return nil, fmt.Errorf("%w: note needs %d blocks, a single append allows %d", common.ErrAppendFailed, len(blocks), maxChildren)
}
