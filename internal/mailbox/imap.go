package mailbox

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/reservation-agent/internal/notifyrouter"
)

// IMAPPoller ports gmail_monitor.py's check_emails/start_polling loop: a
// minimal IMAP4-over-TLS client (stdlib net/crypto-tls — no pack repo or
// library speaks IMAP) that searches the inbox for unseen mail from known
// platform senders, parses each one, and publishes a Notification over the
// same Transport the Router consumes from.
type IMAPPoller struct {
	Addr         string
	Username     string
	Password     string
	PollInterval time.Duration
	Transport    notifyrouter.Transport

	log zerolog.Logger
}

func NewIMAPPoller(addr, username, password string, pollInterval time.Duration, transport notifyrouter.Transport) *IMAPPoller {
	return &IMAPPoller{
		Addr:         addr,
		Username:     username,
		Password:     password,
		PollInterval: pollInterval,
		Transport:    transport,
		log:          log.With().Str("component", "mailbox").Logger(),
	}
}

// Run polls forever until ctx is cancelled, mirroring start_polling's
// "log and continue" handling of per-cycle errors — a single bad IMAP
// round trip never kills the poller.
func (p *IMAPPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *IMAPPoller) pollOnce(ctx context.Context) {
	if err := p.checkEmails(ctx); err != nil {
		p.log.Error().Err(err).Msg("mailbox poll cycle failed")
	}
}

func (p *IMAPPoller) checkEmails(ctx context.Context) error {
	client, err := dialIMAP(p.Addr)
	if err != nil {
		return fmt.Errorf("dial imap: %w", err)
	}
	defer client.close()

	if err := client.login(p.Username, p.Password); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}
	if _, err := client.selectMailbox("INBOX"); err != nil {
		return fmt.Errorf("imap select: %w", err)
	}

	senders := append(append([]string{}, resySenders...), openTableSenders...)
	seen := make(map[uint32]bool)
	for _, sender := range senders {
		seqs, err := client.searchUnseenFrom(sender)
		if err != nil {
			p.log.Error().Err(err).Str("sender", sender).Msg("imap search failed")
			continue
		}
		for _, seq := range seqs {
			if seen[seq] {
				continue
			}
			seen[seq] = true
			p.handleMessage(ctx, client, seq)
		}
	}
	return nil
}

func (p *IMAPPoller) handleMessage(ctx context.Context, client *imapClient, seq uint32) {
	raw, err := client.fetchRFC822(seq)
	if err != nil {
		p.log.Error().Err(err).Uint32("seq", seq).Msg("imap fetch failed")
		return
	}
	msg, err := mail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		p.log.Error().Err(err).Uint32("seq", seq).Msg("parse message failed")
		return
	}
	from := msg.Header.Get("From")
	subject := decodeHeader(msg.Header.Get("Subject"))
	body, err := readBody(msg)
	if err != nil {
		p.log.Error().Err(err).Msg("read message body failed")
	}

	if err := client.markSeen(seq); err != nil {
		p.log.Error().Err(err).Uint32("seq", seq).Msg("mark seen failed")
	}

	platform := IdentifyPlatform(from)
	if platform == "" {
		return
	}
	emailID := msg.Header.Get("Message-Id")
	n, ok := ParseNotification(platform, emailID, subject, body)
	if !ok {
		return
	}
	if err := p.Transport.Publish(ctx, n); err != nil {
		p.log.Error().Err(err).Msg("publish notification failed")
	}
}

func decodeHeader(v string) string {
	dec := new(mime.WordDecoder)
	out, err := dec.DecodeHeader(v)
	if err != nil {
		return v
	}
	return out
}

// readBody prefers text/plain, falling back to text/html, mirroring
// _get_email_body's multipart walk.
func readBody(msg *mail.Message) (string, error) {
	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		return decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	}

	boundary := params["boundary"]
	if boundary == "" {
		return decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	}

	mr := multipart.NewReader(msg.Body, boundary)
	var plain, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return plain, nil
		}
		partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		text, _ := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		switch {
		case strings.HasPrefix(partType, "text/plain") && plain == "":
			plain = text
		case strings.HasPrefix(partType, "text/html") && html == "":
			html = text
		}
	}
	if plain != "" {
		return plain, nil
	}
	return html, nil
}

func decodeBody(r io.Reader, encoding string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// --- Minimal IMAP4rev1 client: connect/login/select/search/fetch/store ---

type imapClient struct {
	conn   *tls.Conn
	reader *bufio.Reader
	tagN   int
}

func dialIMAP(addr string) (*imapClient, error) {
	conn, err := tls.Dial("tcp", addr, &tls.Config{MinVersion: tls.VersionTLS12})
	if err != nil {
		return nil, err
	}
	c := &imapClient{conn: conn, reader: bufio.NewReader(conn)}
	if _, err := c.readLine(); err != nil { // server greeting
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *imapClient) close() error {
	c.cmd("LOGOUT")
	return c.conn.Close()
}

func (c *imapClient) nextTag() string {
	c.tagN++
	return fmt.Sprintf("a%03d", c.tagN)
}

func (c *imapClient) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// cmd sends a tagged command and returns every untagged response line
// along with the final tagged status line.
func (c *imapClient) cmd(command string) ([]string, error) {
	tag := c.nextTag()
	if _, err := fmt.Fprintf(c.conn, "%s %s\r\n", tag, command); err != nil {
		return nil, err
	}
	var lines []string
	for {
		line, err := c.readLine()
		if err != nil {
			return lines, err
		}
		if strings.HasPrefix(line, tag+" ") {
			status := strings.TrimPrefix(line, tag+" ")
			if strings.HasPrefix(status, "OK") {
				return lines, nil
			}
			return lines, fmt.Errorf("imap command %q failed: %s", command, status)
		}
		lines = append(lines, line)
	}
}

func (c *imapClient) login(user, pass string) error {
	_, err := c.cmd(fmt.Sprintf("LOGIN %s %s", quoteIMAP(user), quoteIMAP(pass)))
	return err
}

func (c *imapClient) selectMailbox(name string) ([]string, error) {
	return c.cmd(fmt.Sprintf("SELECT %s", quoteIMAP(name)))
}

func (c *imapClient) searchUnseenFrom(sender string) ([]uint32, error) {
	lines, err := c.cmd(fmt.Sprintf("SEARCH UNSEEN FROM %s", quoteIMAP(sender)))
	if err != nil {
		return nil, err
	}
	var out []uint32
	for _, line := range lines {
		if !strings.HasPrefix(line, "* SEARCH") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "* SEARCH"))
		for _, f := range fields {
			n, err := strconv.ParseUint(f, 10, 32)
			if err == nil {
				out = append(out, uint32(n))
			}
		}
	}
	return out, nil
}

func (c *imapClient) fetchRFC822(seq uint32) (string, error) {
	lines, err := c.cmd(fmt.Sprintf("FETCH %d (RFC822)", seq))
	if err != nil {
		return "", err
	}
	return joinLiteral(lines), nil
}

func (c *imapClient) markSeen(seq uint32) error {
	_, err := c.cmd(fmt.Sprintf("STORE %d +FLAGS (\\Seen)", seq))
	return err
}

// joinLiteral strips the leading "* n FETCH ... {size}" framing line and
// trailing ")" terminator a real IMAP literal response carries, returning
// just the message text. Simplified: assumes the server returns the
// literal across the remaining lines as-is.
func joinLiteral(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	body := lines
	if len(body) > 0 && strings.HasPrefix(body[0], "* ") {
		body = body[1:]
	}
	if len(body) > 0 && strings.TrimSpace(body[len(body)-1]) == ")" {
		body = body[:len(body)-1]
	}
	return strings.Join(body, "\r\n")
}

func quoteIMAP(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
