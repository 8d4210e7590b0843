// Package corpus groups mailbox messages into one text blob per sender.
package corpus

import (
	"regexp"
	"strings"

	"github.com/sells-group/contact-enricher/internal/model"
	"github.com/sells-group/contact-enricher/internal/stoplist"
)

var (
	angleAddr = regexp.MustCompile(`<.+>`)
	bareAddr  = regexp.MustCompile(`\S+@([\w\d]+\.?){2}`)
)

// ExtractEmail returns the lowercased bare address of a From header value.
// Both `Display Name <addr>` and bare `addr` forms are accepted. It returns
// "" when no address can be found.
func ExtractEmail(sender string) string {
	if strings.Contains(sender, "<") {
		if m := angleAddr.FindString(sender); m != "" {
			return strings.ToLower(strings.TrimSpace(strings.NewReplacer("<", "", ">", "").Replace(m)))
		}
	}
	return strings.ToLower(bareAddr.FindString(sender))
}

// Corpus is the concatenated text of every message per sender address.
type Corpus struct {
	texts map[string]string
	order []string
}

// Senders returns sender addresses in first-seen order.
func (c *Corpus) Senders() []string {
	return append([]string(nil), c.order...)
}

// Text returns the concatenated bodies for sender.
func (c *Corpus) Text(sender string) string {
	return c.texts[sender]
}

// Len returns the number of distinct senders.
func (c *Corpus) Len() int {
	return len(c.order)
}

// Map returns a copy of the sender to text mapping.
func (c *Corpus) Map() map[string]string {
	out := make(map[string]string, len(c.texts))
	for k, v := range c.texts {
		out[k] = v
	}
	return out
}

// Build groups messages by sender address. Messages from stop-listed
// domains, and messages whose sender has no recognisable address, are
// dropped. Bodies from the same sender are joined with a single space in
// encounter order.
func Build(messages []model.Message, stop *stoplist.Filter) *Corpus {
	c := &Corpus{texts: make(map[string]string)}
	for _, msg := range messages {
		email := ExtractEmail(msg.Sender)
		if email == "" || stop.HasDomain(email) {
			continue
		}
		if prev, ok := c.texts[email]; ok {
			c.texts[email] = prev + " " + msg.Body
			continue
		}
		c.texts[email] = msg.Body
		c.order = append(c.order, email)
	}
	return c
}
