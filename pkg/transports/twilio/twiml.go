package twilio

import (
	"strconv"
	"strings"

	"github.com/harunnryd/dineline/pkg/callflow"
)

// render turns an engine reply into a TwiML document. Listening replies
// gather speech and fall through to the no-input hook on silence.
func (t *Transport) render(r callflow.Reply) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><Response>`)
	switch r.Next {
	case callflow.NextDigits:
		b.WriteString(`<Gather input="dtmf" numDigits="1" timeout="5" method="POST" action="` + t.cfg.path("language") + `">`)
		t.say(&b, r)
		b.WriteString(`</Gather>`)
		b.WriteString(`<Redirect method="POST">` + t.cfg.path("language") + `</Redirect>`)
	case callflow.NextHangup:
		t.say(&b, r)
		b.WriteString(`<Hangup/>`)
	case callflow.NextTransfer:
		t.say(&b, r)
		if staff := strings.TrimSpace(t.cfg.StaffNumber); staff != "" {
			b.WriteString(`<Pause length="1"/><Dial>` + xmlEscape(staff) + `</Dial>`)
		} else {
			b.WriteString(`<Hangup/>`)
		}
	case callflow.NextDefer:
		t.say(&b, r)
		b.WriteString(`<Redirect method="POST">` + t.cfg.path("process") + `</Redirect>`)
	default:
		t.say(&b, r)
		b.WriteString(`<Gather input="speech" method="POST" action="` + t.cfg.path("speech") + `"`)
		b.WriteString(` timeout="` + strconv.Itoa(t.cfg.GatherTimeout) + `"`)
		b.WriteString(` speechTimeout="` + xmlEscape(t.cfg.SpeechTimeout) + `"`)
		b.WriteString(` speechModel="` + xmlEscape(t.cfg.SpeechModel) + `" enhanced="true"`)
		if r.Language != "" {
			b.WriteString(` language="` + xmlEscape(r.Language) + `"`)
		}
		b.WriteString(`/>`)
		b.WriteString(`<Redirect method="POST">` + t.cfg.path("no-input") + `</Redirect>`)
	}
	b.WriteString(`</Response>`)
	return b.String()
}

func (t *Transport) say(b *strings.Builder, r callflow.Reply) {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return
	}
	b.WriteString(`<Say`)
	if voice := t.cfg.Voices[strings.ToLower(r.Language)]; voice != "" {
		b.WriteString(` voice="` + xmlEscape(voice) + `"`)
	}
	if r.Language != "" {
		b.WriteString(` language="` + xmlEscape(r.Language) + `"`)
	}
	b.WriteString(`>` + xmlEscape(text) + `</Say>`)
}

func buildDTMFTwiml(digits string) string {
	return `<Response><Play digits="` + xmlEscape(digits) + `"/></Response>`
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}
