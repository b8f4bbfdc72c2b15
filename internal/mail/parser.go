package mail

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/threadline/threadline/internal/apperr"
	"github.com/threadline/threadline/pkg/types"
)

// Parse decodes one raw RFC 822 message into its structured form. Header
// damage is absorbed with defaults; only an unreadable MIME structure is a
// parse failure.
func Parse(raw []byte, logger *logrus.Logger) (*types.ParsedMessage, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeParse, err, "failed to parse MIME message")
	}

	pm := &types.ParsedMessage{
		MessageID: messageID(env),
		Subject:   subject(env),
		From:      fromAddress(env),
		To:        addressList(env, "To"),
		Cc:        addressList(env, "Cc"),
		Date:      messageDate(env, logger),
		BodyText:  env.Text,
		BodyHTML:  env.HTML,
		InReplyTo: firstReference(env.GetHeader("In-Reply-To")),
	}

	for _, ref := range strings.Fields(env.GetHeader("References")) {
		if id := trimAngles(ref); id != "" {
			pm.References = append(pm.References, id)
		}
	}

	for _, part := range env.Attachments {
		if part.FileName == "" {
			continue
		}
		contentType := part.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		pm.Attachments = append(pm.Attachments, types.ParsedAttachment{
			Filename:    part.FileName,
			ContentType: contentType,
			Data:        part.Content,
		})
	}

	return pm, nil
}

// ThreadKey derives the conversation key for a parsed message: the thread
// root from References when present, else the direct parent, else the
// message's own identifier. Deterministic for a given input.
func ThreadKey(pm *types.ParsedMessage) string {
	if len(pm.References) > 0 {
		return pm.References[0]
	}
	if pm.InReplyTo != "" {
		return pm.InReplyTo
	}
	return pm.MessageID
}

// messageID returns the normalized Message-ID header, synthesizing a unique
// identifier when the header is missing or empty.
func messageID(env *enmime.Envelope) string {
	if id := trimAngles(env.GetHeader("Message-ID")); id != "" {
		return id
	}
	return fmt.Sprintf("generated-%d-%s", time.Now().Unix(), uuid.NewString()[:8])
}

func subject(env *enmime.Envelope) string {
	if s := strings.TrimSpace(env.GetHeader("Subject")); s != "" {
		return s
	}
	return "(No Subject)"
}

// fromAddress renders the sender as "Name <addr>", a bare address when the
// display name is absent, or "Unknown" when the header is unusable.
func fromAddress(env *enmime.Envelope) string {
	addrs, err := env.AddressList("From")
	if err != nil || len(addrs) == 0 {
		if raw := strings.TrimSpace(env.GetHeader("From")); raw != "" {
			return raw
		}
		return "Unknown"
	}
	return formatAddress(addrs[0])
}

func addressList(env *enmime.Envelope, header string) []string {
	addrs, err := env.AddressList(header)
	if err != nil || len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, formatAddress(a))
	}
	return out
}

func formatAddress(a *mail.Address) string {
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Address)
	}
	return a.Address
}

// messageDate parses the Date header, substituting the current time when it
// is missing or malformed so every message stays sortable. The result is
// normalized to UTC so stored timestamp text compares as an instant,
// whatever offset the header carried.
func messageDate(env *enmime.Envelope, logger *logrus.Logger) time.Time {
	raw := strings.TrimSpace(env.GetHeader("Date"))
	if raw == "" {
		return time.Now().UTC()
	}
	t, err := mail.ParseDate(raw)
	if err != nil {
		logger.WithField("date", raw).Debug("Unparseable Date header, using current time")
		return time.Now().UTC()
	}
	return t.UTC()
}

func firstReference(header string) string {
	fields := strings.Fields(header)
	if len(fields) == 0 {
		return ""
	}
	return trimAngles(fields[0])
}

func trimAngles(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "<>"))
}
