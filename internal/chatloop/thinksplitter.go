package chatloop

import "strings"

const (
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"
)

// thinkSplitter incrementally separates tag-reasoning (`<think>...</think>`)
// from ordinary content as a provider streams text in arbitrary-sized
// chunks, so a tag straddling two chunks is never missed (§4.G step 6,
// §9). Feed consumes one content delta and returns the plain-text and
// thinking-text fragments that became resolvable as a result; either may
// be empty. Tag markers themselves never appear in the returned text.
type thinkSplitter struct {
	inThink bool
	// pending holds a suffix of the input that could be the prefix of an
	// open/close tag, held back until the next chunk disambiguates it.
	pending string
}

// thinkSplit is the outcome of one Feed call.
type thinkSplit struct {
	Text     string
	Thinking string
}

// Feed processes one delta of provider output.
func (s *thinkSplitter) Feed(delta string) thinkSplit {
	buf := s.pending + delta
	s.pending = ""

	var out thinkSplit
	for {
		tag := thinkCloseTag
		if !s.inThink {
			tag = thinkOpenTag
		}

		idx := strings.Index(buf, tag)
		if idx < 0 {
			// No full tag in buf. Check whether a suffix of buf could be
			// the start of the tag we're looking for; if so, hold it back.
			holdLen := longestTagPrefixSuffix(buf, tag)
			emit := buf[:len(buf)-holdLen]
			s.pending = buf[len(buf)-holdLen:]
			appendSplit(&out, s.inThink, emit)
			return out
		}

		appendSplit(&out, s.inThink, buf[:idx])
		s.inThink = !s.inThink
		buf = buf[idx+len(tag):]
	}
}

// Flush returns any buffered text that never resolved into a complete tag,
// treated as plain content (or thinking, if a close tag never arrived),
// plus any held-back partial-tag bytes which by construction were never a
// real tag.
func (s *thinkSplitter) Flush() thinkSplit {
	var out thinkSplit
	appendSplit(&out, s.inThink, s.pending)
	s.pending = ""
	return out
}

func appendSplit(out *thinkSplit, inThink bool, text string) {
	if text == "" {
		return
	}
	if inThink {
		out.Thinking += text
	} else {
		out.Text += text
	}
}

// longestTagPrefixSuffix returns the length of the longest suffix of buf
// that is also a non-empty proper prefix of tag, i.e. how many trailing
// bytes of buf might be the start of tag split across a chunk boundary.
func longestTagPrefixSuffix(buf, tag string) int {
	max := len(tag) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(buf, tag[:n]) {
			return n
		}
	}
	return 0
}
