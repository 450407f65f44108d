package mailbox

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/Threadigit/BillDrop/internal/utils"
	"golang.org/x/text/encoding/htmlindex"
)

// maxPartDepth bounds recursion into nested multipart bodies
const maxPartDepth = 8

// MaxBodyBytes caps message bodies handed to the pipeline
const MaxBodyBytes = 5000

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// fallback layouts for Date headers net/mail rejects
var dateLayouts = []string{
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

// bodies collects the first text/plain and text/html parts of a message
type bodies struct {
	plain string
	html  string
}

func (b *bodies) text() string {
	if strings.TrimSpace(b.plain) != "" {
		return strings.TrimSpace(b.plain)
	}
	if b.html != "" {
		return utils.StripHTML(b.html)
	}
	return ""
}

// ParseMessage reads an RFC 5322 message into a RawMessage. The ID is the
// Message-ID header without angle brackets and may be empty.
func ParseMessage(r io.Reader) (*core.RawMessage, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	var b bodies
	// a broken part still leaves whatever was read before it
	_ = walkPart(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body, 0, &b)

	return &core.RawMessage{
		ID:      strings.Trim(strings.TrimSpace(msg.Header.Get("Message-ID")), "<>"),
		Subject: decodeHeader(msg.Header.Get("Subject")),
		From:    decodeHeader(msg.Header.Get("From")),
		Date:    ParseDate(msg.Header.Get("Date")),
		Body:    utils.CutUTF8(b.text(), MaxBodyBytes),
	}, nil
}

// ParseBytes is ParseMessage over an in-memory message
func ParseBytes(raw []byte) (*core.RawMessage, error) {
	return ParseMessage(bytes.NewReader(raw))
}

func walkPart(contentType, encoding string, body io.Reader, depth int, out *bodies) error {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || contentType == "" {
		mediaType, params = "text/plain", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" || depth >= maxPartDepth {
			return nil
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if isAttachment(part) {
				continue
			}
			// quoted-printable parts are decoded by the reader and lose the header
			if err := walkPart(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part, depth+1, out); err != nil {
				return err
			}
		}
	}

	switch {
	case mediaType == "text/plain" && out.plain == "":
	case mediaType == "text/html" && out.html == "":
	default:
		return nil
	}

	data, err := io.ReadAll(transferDecoder(encoding, body))
	if err != nil {
		return err
	}
	text := decodeCharset(params["charset"], data)

	if mediaType == "text/plain" {
		out.plain = text
	} else {
		out.html = text
	}
	return nil
}

func isAttachment(part *multipart.Part) bool {
	disposition, _, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	return err == nil && disposition == "attachment"
}

func transferDecoder(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

func decodeCharset(charset string, data []byte) string {
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset == "" || charset == "utf-8" || charset == "us-ascii" {
		return string(data)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(data)
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Reader(input), nil
}

// decodeHeader decodes RFC 2047 encoded words, keeping the raw value on failure
func decodeHeader(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(decoded)
}

// ParseDate parses a Date header, returning the zero time when nothing fits
func ParseDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if t, err := mail.ParseDate(value); err == nil {
		return t
	}

	// drop a trailing "(UTC)" style comment
	if open := strings.LastIndex(value, " ("); open != -1 && strings.HasSuffix(value, ")") {
		value = strings.TrimSpace(value[:open])
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
