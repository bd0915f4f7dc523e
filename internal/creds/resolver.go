package creds

import (
	"encoding/json"
	"strconv"
	"strings"
)

// IMAPCredentials are the normalized parameters needed to open a mailbox
// session for a client.
type IMAPCredentials struct {
	Host string
	Port int
	User string
	Pass string
}

// SMTPCredentials carry the outbound identity and server for a client's
// own sending domain.
type SMTPCredentials struct {
	Host      string
	Port      int
	User      string
	Pass      string
	FromEmail string
	FromName  string
}

// Address returns host:port for dialing.
func (c *IMAPCredentials) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// accountBlob mirrors the stored email-account JSON. Newer rows nest
// imap/smtp sections; older rows used flat keys.
type accountBlob struct {
	IMAP *struct {
		Host string          `json:"host"`
		Port json.RawMessage `json:"port"`
		User string          `json:"user"`
		Pass string          `json:"pass"`
	} `json:"imap"`
	SMTP *struct {
		Host      string          `json:"host"`
		Port      json.RawMessage `json:"port"`
		User      string          `json:"user"`
		Pass      string          `json:"pass"`
		FromEmail string          `json:"from_email"`
		FromName  string          `json:"from_name"`
	} `json:"smtp"`

	// Legacy flat keys kept for rows written before the nested format.
	LegacyIMAPHost string          `json:"imap_host"`
	LegacyIMAPPort json.RawMessage `json:"imap_port"`
	LegacySMTPHost string          `json:"smtp_host"`
	LegacySMTPPort json.RawMessage `json:"smtp_port"`
	LegacyUser     string          `json:"email_user"`
	LegacyPass     string          `json:"email_pass"`
	LegacyFrom     string          `json:"from_email"`
	LegacyFromName string          `json:"from_name"`
}

// ResolveIMAP extracts IMAP connection parameters from a client's stored
// email-account blob, falling back to an automation-config blob when the
// account row has none. Returns nil when no usable credentials exist;
// callers skip that client rather than failing the batch.
func ResolveIMAP(account, fallback []byte) *IMAPCredentials {
	if c := imapFromBlob(account); c != nil {
		return c
	}
	return imapFromBlob(fallback)
}

// ResolveSMTP extracts the SMTP server and sender identity the same way.
// Returns nil when the client has no sending credentials configured.
func ResolveSMTP(account, fallback []byte) *SMTPCredentials {
	if c := smtpFromBlob(account); c != nil {
		return c
	}
	return smtpFromBlob(fallback)
}

func imapFromBlob(raw []byte) *IMAPCredentials {
	blob := decode(raw)
	if blob == nil {
		return nil
	}
	if blob.IMAP != nil && blob.IMAP.Host != "" {
		c := &IMAPCredentials{
			Host: blob.IMAP.Host,
			Port: portOrDefault(blob.IMAP.Port, 993),
			User: blob.IMAP.User,
			Pass: blob.IMAP.Pass,
		}
		if c.User == "" {
			c.User = blob.LegacyUser
		}
		if c.Pass == "" {
			c.Pass = blob.LegacyPass
		}
		if c.User == "" || c.Pass == "" {
			return nil
		}
		return c
	}
	if blob.LegacyIMAPHost != "" && blob.LegacyUser != "" && blob.LegacyPass != "" {
		return &IMAPCredentials{
			Host: blob.LegacyIMAPHost,
			Port: portOrDefault(blob.LegacyIMAPPort, 993),
			User: blob.LegacyUser,
			Pass: blob.LegacyPass,
		}
	}
	return nil
}

func smtpFromBlob(raw []byte) *SMTPCredentials {
	blob := decode(raw)
	if blob == nil {
		return nil
	}
	if blob.SMTP != nil && blob.SMTP.Host != "" {
		c := &SMTPCredentials{
			Host:      blob.SMTP.Host,
			Port:      portOrDefault(blob.SMTP.Port, 587),
			User:      blob.SMTP.User,
			Pass:      blob.SMTP.Pass,
			FromEmail: blob.SMTP.FromEmail,
			FromName:  blob.SMTP.FromName,
		}
		if c.User == "" {
			c.User = blob.LegacyUser
		}
		if c.Pass == "" {
			c.Pass = blob.LegacyPass
		}
		if c.FromEmail == "" {
			c.FromEmail = blob.LegacyFrom
		}
		if c.FromEmail == "" {
			c.FromEmail = c.User
		}
		if c.FromName == "" {
			c.FromName = blob.LegacyFromName
		}
		if c.User == "" || c.Pass == "" {
			return nil
		}
		return c
	}
	if blob.LegacySMTPHost != "" && blob.LegacyUser != "" && blob.LegacyPass != "" {
		from := blob.LegacyFrom
		if from == "" {
			from = blob.LegacyUser
		}
		return &SMTPCredentials{
			Host:      blob.LegacySMTPHost,
			Port:      portOrDefault(blob.LegacySMTPPort, 587),
			User:      blob.LegacyUser,
			Pass:      blob.LegacyPass,
			FromEmail: from,
			FromName:  blob.LegacyFromName,
		}
	}
	return nil
}

func decode(raw []byte) *accountBlob {
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "" {
		return nil
	}
	var blob accountBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil
	}
	return &blob
}

// portOrDefault tolerates ports stored as either a JSON number or a
// string, which both appear in legacy rows.
func portOrDefault(raw json.RawMessage, def int) int {
	if len(raw) == 0 {
		return def
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n > 0 {
			return n
		}
	}
	return def
}
