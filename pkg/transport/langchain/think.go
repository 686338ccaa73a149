package langchain

import (
	"strings"
	"unicode"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// thinkSplitter separates <think>...</think> blocks from streamed content.
// Tags may be split across chunks; a possible tag prefix at the end of a
// chunk is held back until the next chunk decides it.
type thinkSplitter struct {
	inThink   bool
	trimNext  bool
	pending   string
	reasoning strings.Builder
}

// Feed consumes a chunk and returns the part that is visible content.
func (s *thinkSplitter) Feed(chunk string) string {
	buf := s.pending + chunk
	s.pending = ""
	var out strings.Builder

	for buf != "" {
		if !s.inThink {
			if idx := strings.Index(buf, thinkOpen); idx >= 0 {
				s.emit(&out, buf[:idx])
				buf = buf[idx+len(thinkOpen):]
				s.inThink = true
				continue
			}
			k := partialSuffix(buf, thinkOpen)
			s.emit(&out, buf[:len(buf)-k])
			s.pending = buf[len(buf)-k:]
			break
		}

		if idx := strings.Index(buf, thinkClose); idx >= 0 {
			s.reasoning.WriteString(buf[:idx])
			buf = buf[idx+len(thinkClose):]
			s.inThink = false
			s.trimNext = true
			continue
		}
		k := partialSuffix(buf, thinkClose)
		s.reasoning.WriteString(buf[:len(buf)-k])
		s.pending = buf[len(buf)-k:]
		break
	}

	return out.String()
}

func (s *thinkSplitter) emit(out *strings.Builder, text string) {
	if s.trimNext {
		text = strings.TrimLeftFunc(text, unicode.IsSpace)
		if text == "" {
			return
		}
		s.trimNext = false
	}
	out.WriteString(text)
}

// Flush returns held back visible content at the end of the stream.
func (s *thinkSplitter) Flush() string {
	rest := s.pending
	s.pending = ""
	if s.inThink {
		s.reasoning.WriteString(rest)
		return ""
	}
	var out strings.Builder
	s.emit(&out, rest)
	return out.String()
}

func (s *thinkSplitter) Reasoning() string {
	return strings.TrimSpace(s.reasoning.String())
}

// partialSuffix returns the length of the longest proper prefix of tag that
// s ends with.
func partialSuffix(s, tag string) int {
	n := len(tag) - 1
	if len(s) < n {
		n = len(s)
	}
	for k := n; k > 0; k-- {
		if strings.HasSuffix(s, tag[:k]) {
			return k
		}
	}
	return 0
}
