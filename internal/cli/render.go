package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/taskboard/taskchat/internal/domain"
	"github.com/taskboard/taskchat/internal/roster"
	"github.com/taskboard/taskchat/internal/session"
)

type authorResolver interface {
	ResolveAuthor(authorID string) roster.Author
}

func renderHeader(w io.Writer, chatID domain.ChatID, state session.State) {
	label := chatID.String()
	if chatID.IsDraft() {
		label += " (draft)"
	}
	fmt.Fprintf(w, "== %s [%s]\n", label, state)
	if state == session.Degraded {
		fmt.Fprintln(w, "   engine unreachable, showing cached history")
	}
}

func renderMessages(w io.Writer, r authorResolver, msgs []domain.Message, now time.Time) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "   no messages yet")
		return
	}
	for _, m := range msgs {
		renderMessage(w, r, m, now)
	}
}

func renderMessage(w io.Writer, r authorResolver, m domain.Message, now time.Time) {
	a := r.ResolveAuthor(m.AuthorID)
	name := a.Name
	if a.Mine {
		name = "You"
	}
	if a.Role != "" {
		name += " (" + a.Role + ")"
	}

	when := humanize.RelTime(time.UnixMilli(m.CreatedAt), now, "ago", "from now")
	fmt.Fprintf(w, "%s  %s", name, when)
	switch m.State {
	case domain.Sending:
		fmt.Fprint(w, "  [sending]")
	case domain.Failed:
		fmt.Fprintf(w, "  [failed, /retry %s]", m.ID)
	}
	fmt.Fprintln(w)

	if m.Body != "" {
		for _, line := range strings.Split(m.Body, "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
	for _, att := range m.Attachments {
		renderAttachment(w, att)
	}
}

func renderAttachment(w io.Writer, a domain.Attachment) {
	switch loc := a.Locator.(type) {
	case domain.Remote:
		fmt.Fprintf(w, "    [%s] %s\n", a.Kind, loc.URL)
	case domain.LocalPreview:
		fmt.Fprintf(w, "    [%s] %s (not uploaded)\n", a.Kind, loc.Path)
	default:
		fmt.Fprintf(w, "    [%s] %s (preview expired)\n", a.Kind, a.Name)
	}
}
