// Package emails parses archived mailboxes (EML files and MBOX archives)
// into email records the backfill importer can queue
package emails

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"leadflow/internal/models"
	"leadflow/internal/utils"

	"github.com/rs/zerolog"
)

// Parser reads archived mailboxes into email records
type Parser struct {
	logger zerolog.Logger
}

// NewParser creates a mailbox parser
func NewParser(logger zerolog.Logger) *Parser {
	return &Parser{logger: logger}
}

// ParseEMLFile parses a single EML file into an email record
func (p *Parser) ParseEMLFile(filename string) (*models.InboundEmail, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open EML file: %w", err)
	}
	defer file.Close()

	return parseMessage(file)
}

// MBOXProgress tracks the progress of MBOX file parsing
type MBOXProgress struct {
	BytesProcessed  int64
	TotalBytes      int64
	EmailsProcessed int
	PercentComplete float64
}

// MBOXBatchCallback is called for each batch of parsed email records
type MBOXBatchCallback func(batch []*models.InboundEmail, progress MBOXProgress) error

// ParseMBOXFile parses an MBOX archive in batches. Batching keeps memory flat
// for multi-gigabyte archives.
func (p *Parser) ParseMBOXFile(filename string, batchSize int, callback MBOXBatchCallback) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open MBOX file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat MBOX file: %w", err)
	}
	totalBytes := info.Size()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var batch []*models.InboundEmail
	var current bytes.Buffer
	var count int
	var bytesProcessed int64

	flush := func(done bool) error {
		if len(batch) == 0 {
			return nil
		}
		progress := MBOXProgress{
			BytesProcessed:  bytesProcessed,
			TotalBytes:      totalBytes,
			EmailsProcessed: count,
			PercentComplete: float64(bytesProcessed) / float64(totalBytes) * 100,
		}
		if done {
			progress.PercentComplete = 100.0
		}
		if err := callback(batch, progress); err != nil {
			return fmt.Errorf("batch processing error at email %d: %w", count, err)
		}
		batch = nil
		return nil
	}

	parseCurrent := func() {
		email, err := parseMessage(&current)
		if err != nil {
			p.logger.Warn().Err(err).Int("email_number", count+1).Msg("Skipping unparseable MBOX entry")
		} else {
			batch = append(batch, email)
		}
		count++
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		bytesProcessed += int64(len(line) + 1)

		// Each MBOX entry starts with a "From " separator line
		if strings.HasPrefix(line, "From ") && current.Len() > 0 {
			parseCurrent()
			if len(batch) >= batchSize {
				if err := flush(false); err != nil {
					return err
				}
			}
			continue
		}

		current.WriteString(line)
		current.WriteString("\n")
	}

	if current.Len() > 0 {
		parseCurrent()
	}
	if err := flush(true); err != nil {
		return err
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading MBOX file: %w", err)
	}

	p.logger.Info().
		Int("emails", count).
		Str("file", filepath.Base(filename)).
		Msg("MBOX parsing complete")
	return nil
}

// ParseDirectory recursively parses all EML files under a directory
func (p *Parser) ParseDirectory(dirPath string) ([]*models.InboundEmail, error) {
	var records []*models.InboundEmail

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(path), ".eml") {
			return nil
		}

		email, err := p.ParseEMLFile(path)
		if err != nil {
			p.logger.Warn().Err(err).Str("file", path).Msg("Skipping unparseable EML file")
			return nil
		}
		records = append(records, email)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return records, nil
}

func parseMessage(r io.Reader) (*models.InboundEmail, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read email message: %w", err)
	}

	header := msg.Header

	email := &models.InboundEmail{
		MessageID: utils.CleanMessageID(header.Get("Message-ID")),
		Subject:   decodeHeader(header.Get("Subject")),
		InReplyTo: utils.CleanMessageID(header.Get("In-Reply-To")),
	}
	email.IsForward = utils.IsForwardSubject(email.Subject)

	if from, err := mail.ParseAddress(header.Get("From")); err == nil {
		email.SenderEmail = utils.NormalizeAddress(from.Address)
		email.SenderName = from.Name
	} else {
		email.SenderEmail = utils.NormalizeAddress(header.Get("From"))
	}

	if refs := header.Get("References"); refs != "" {
		email.References = utils.SplitReferences(refs)
	}

	if date, err := mail.ParseDate(header.Get("Date")); err == nil {
		email.ReceivedAt = date
	} else {
		email.ReceivedAt = time.Now()
	}

	body, err := extractBody(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to extract body: %w", err)
	}
	email.Body = body

	return email, nil
}

func decodeHeader(value string) string {
	decoder := mime.WordDecoder{}
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// extractBody extracts the text body from an email message, preferring
// text/plain parts over HTML
func extractBody(msg *mail.Message) (string, error) {
	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		body, err := io.ReadAll(msg.Body)
		if err != nil {
			return "", err
		}
		return string(body), nil
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		body, err := io.ReadAll(msg.Body)
		if err != nil {
			return "", err
		}
		return string(body), nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		return extractMultipartBody(msg.Body, params["boundary"])
	}

	return extractSinglePartBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
}

func extractMultipartBody(body io.Reader, boundary string) (string, error) {
	mr := multipart.NewReader(body, boundary)
	var textParts []string
	var htmlParts []string

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		partContentType := part.Header.Get("Content-Type")
		mediaType, params, _ := mime.ParseMediaType(partContentType)
		transferEncoding := part.Header.Get("Content-Transfer-Encoding")

		switch {
		case strings.HasPrefix(mediaType, "text/plain"):
			if content, err := extractSinglePartBody(part, transferEncoding); err == nil {
				textParts = append(textParts, content)
			}
		case strings.HasPrefix(mediaType, "text/html"):
			if content, err := extractSinglePartBody(part, transferEncoding); err == nil {
				htmlParts = append(htmlParts, content)
			}
		case strings.HasPrefix(mediaType, "multipart/"):
			if nestedBoundary, ok := params["boundary"]; ok {
				if nested, err := extractMultipartBody(part, nestedBoundary); err == nil {
					textParts = append(textParts, nested)
				}
			}
		}
	}

	if len(textParts) > 0 {
		return strings.Join(textParts, "\n\n"), nil
	}
	if len(htmlParts) > 0 {
		return stripHTML(strings.Join(htmlParts, "\n\n")), nil
	}
	return "", nil
}

func extractSinglePartBody(body io.Reader, transferEncoding string) (string, error) {
	reader := body

	switch strings.ToLower(transferEncoding) {
	case "quoted-printable":
		reader = quotedprintable.NewReader(body)
	case "base64":
		reader = base64.NewDecoder(base64.StdEncoding, body)
	}

	content, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// stripHTML reduces an HTML body to readable text. Good enough for
// similarity embedding; not a general HTML renderer.
func stripHTML(html string) string {
	html = removeTagWithContent(html, "script")
	html = removeTagWithContent(html, "style")

	replacer := strings.NewReplacer(
		"&nbsp;", " ",
		"&lt;", "<",
		"&gt;", ">",
		"&amp;", "&",
		"&quot;", `"`,
		"&#39;", "'",
		"<br>", "\n",
		"<br/>", "\n",
		"<br />", "\n",
		"</p>", "\n\n",
		"</div>", "\n",
	)
	html = replacer.Replace(html)

	var result strings.Builder
	inTag := false
	for _, char := range html {
		switch {
		case char == '<':
			inTag = true
		case char == '>':
			inTag = false
		case !inTag:
			result.WriteRune(char)
		}
	}

	text := strings.TrimSpace(result.String())
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return text
}

func removeTagWithContent(html, tag string) string {
	openTag := "<" + tag
	closeTag := "</" + tag + ">"

	for {
		start := strings.Index(strings.ToLower(html), openTag)
		if start == -1 {
			return html
		}
		end := strings.Index(strings.ToLower(html[start:]), closeTag)
		if end == -1 {
			return html[:start]
		}
		html = html[:start] + html[start+end+len(closeTag):]
	}
}
