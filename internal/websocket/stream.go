package websocket

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxFrameSize bounds how much of a single frame the splitter buffers.
const DefaultMaxFrameSize = 16 << 20

var (
	headerEnd      = []byte("\r\n\r\n")
	upgradeReply   = []byte("HTTP/1.1 101")
	upgradeRequest = []byte("GET ")
)

// Splitter cuts a contiguous captured TCP byte stream into frame buffers.
// It does not reassemble continuation frames; each frame is returned as seen.
type Splitter struct {
	r       *bufio.Reader
	offset  int64
	maxSize int
	started bool
	done    bool
}

// NewSplitter creates a splitter over r. maxFrameSize <= 0 selects
// DefaultMaxFrameSize.
func NewSplitter(r io.Reader, maxFrameSize int) *Splitter {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Splitter{
		r:       bufio.NewReaderSize(r, 64<<10),
		maxSize: maxFrameSize,
	}
}

// Offset returns the number of stream bytes consumed so far.
func (s *Splitter) Offset() int64 {
	return s.offset
}

// Next returns the next frame. A trailing partial frame is returned once with
// Truncated set; after that Next returns io.EOF.
func (s *Splitter) Next() (*RawFrame, error) {
	if s.done {
		return nil, io.EOF
	}
	if !s.started {
		s.started = true
		if err := s.skipUpgrade(); err != nil {
			return nil, err
		}
	}

	// Peek only as much header as the length code needs, so a short frame
	// on a live stream is returned without waiting for the next one.
	hdr, err := s.r.Peek(shortHeaderLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(hdr) == 0 {
		s.done = true
		return nil, io.EOF
	}
	if len(hdr) == shortHeaderLen {
		need := shortHeaderLen
		switch hdr[1] & lengthBits {
		case len16Marker:
			need = extended16HeadLen
		case len64Marker:
			need = extended64HeadLen
		}
		hdr, err = s.r.Peek(need)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}

	f, decErr := Decode(hdr)
	if decErr != nil {
		// Fewer bytes left than the header needs.
		return s.truncated(len(hdr))
	}

	total := f.FrameLength()
	if total > uint64(s.maxSize) {
		return s.truncated(s.maxSize)
	}

	data := make([]byte, total)
	n, err := io.ReadFull(s.r, data)
	raw := &RawFrame{Offset: s.offset, Data: data[:n]}
	s.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			s.done = true
			raw.Truncated = true
			return raw, nil
		}
		return nil, err
	}
	return raw, nil
}

// truncated reads at most n bytes and ends the split.
func (s *Splitter) truncated(n int) (*RawFrame, error) {
	s.done = true
	data := make([]byte, n)
	read, err := io.ReadFull(s.r, data)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	raw := &RawFrame{Offset: s.offset, Data: data[:read], Truncated: true}
	s.offset += int64(read)
	return raw, nil
}

// skipUpgrade drops an HTTP/1.1 upgrade request or 101 reply at the start
// of the stream.
func (s *Splitter) skipUpgrade() error {
	prefix, _ := s.r.Peek(len(upgradeReply))
	if !bytes.HasPrefix(prefix, upgradeReply) && !bytes.HasPrefix(prefix, upgradeRequest) {
		return nil
	}

	var consumed int64
	var window []byte
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			s.offset += consumed
			if errors.Is(err, io.EOF) {
				s.done = true
				return nil
			}
			return err
		}
		consumed++
		window = append(window, b)
		if len(window) > len(headerEnd) {
			window = window[1:]
		}
		if bytes.Equal(window, headerEnd) {
			s.offset += consumed
			return nil
		}
		if consumed > 64<<10 {
			return fmt.Errorf("upgrade header exceeds %d bytes", 64<<10)
		}
	}
}

// ParseHexDump reads a hand-written capture: one frame per line as hex digits.
// Whitespace, "0x" prefixes and ":" separators are ignored; lines starting with
// '#' are comments.
func ParseHexDump(r io.Reader) ([][]byte, error) {
	var frames [][]byte
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), DefaultMaxFrameSize*2)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		text = strings.ReplaceAll(text, "0x", "")
		text = strings.Map(func(r rune) rune {
			switch r {
			case ' ', '\t', ':':
				return -1
			}
			return r
		}, text)

		data, err := hex.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		frames = append(frames, data)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}
