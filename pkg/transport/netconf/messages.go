package netconf

import (
	"encoding/xml"
	"fmt"
	"html"
	"strings"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// Reply is a decoded rpc-reply.
type Reply struct {
	XMLName   xml.Name   `xml:"rpc-reply"`
	MessageID string     `xml:"message-id,attr"`
	Errors    []RPCError `xml:"rpc-error"`
	OK        *struct{}  `xml:"ok"`
	Body      string     `xml:",innerxml"`
}

// RPCError is one rpc-error element.
type RPCError struct {
	Type     string `xml:"error-type"`
	Tag      string `xml:"error-tag"`
	Severity string `xml:"error-severity"`
	Path     string `xml:"error-path"`
	Message  string `xml:"error-message"`
	Element  string `xml:"error-info>bad-element"`
}

func (e RPCError) String() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = e.Tag
	}
	if el := strings.TrimSpace(e.Element); el != "" {
		msg += " (" + el + ")"
	}
	return msg
}

// Warnings returns the warning-severity errors as text.
func (r *Reply) Warnings() []string {
	var out []string
	for _, e := range r.Errors {
		if e.Severity == "warning" {
			out = append(out, "warning: "+e.String())
		}
	}
	return out
}

// Err converts error-severity rpc-errors into a device error. Lock denial
// is classified as a lock failure.
func (r *Reply) Err(device string) error {
	var msgs []string
	locked := false
	for _, e := range r.Errors {
		if e.Severity == "warning" {
			continue
		}
		msgs = append(msgs, e.String())
		if e.Tag == "lock-denied" || strings.Contains(e.Message, "database locked") {
			locked = true
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	err := util.NewDeviceError(device, msgs[0], msgs[1:]...)
	if locked {
		return util.Wrap(util.KindLocked, err)
	}
	return err
}

// Decode unmarshals the reply body into v.
func (r *Reply) Decode(v interface{}) error {
	return xml.Unmarshal([]byte("<body>"+r.Body+"</body>"), v)
}

type replyBody struct {
	Output       string `xml:"output"`
	ConfigText   string `xml:"configuration-text"`
	ConfigSet    string `xml:"configuration-set"`
	ConfigOutput string `xml:"configuration-information>configuration-output"`
}

// text extracts the human-readable payload of a reply.
func (r *Reply) text() (string, error) {
	var b replyBody
	if err := r.Decode(&b); err != nil {
		return "", err
	}
	for _, s := range []string{b.Output, b.ConfigText, b.ConfigSet, b.ConfigOutput} {
		if strings.TrimSpace(s) != "" {
			return strings.TrimLeft(s, "\n"), nil
		}
	}
	return "", nil
}

// The operations below are the XML bodies of the RPCs the transport sends.

func rpcLock() string   { return "<lock><target><candidate/></target></lock>" }
func rpcUnlock() string { return "<unlock><target><candidate/></target></unlock>" }
func rpcDiscard() string {
	return "<discard-changes/>"
}

func rpcCommand(command string, format fleet.OutputFormat) string {
	f := "text"
	if format == fleet.FormatXML {
		f = "xml"
	}
	return fmt.Sprintf(`<command format="%s">%s</command>`, f, html.EscapeString(command))
}

// rpcLoad loads payload into the candidate. Payloads made only of set-style
// commands are loaded as set; anything else as curly-brace text merged into
// the candidate.
func rpcLoad(payload string) string {
	if isSetPayload(payload) {
		return fmt.Sprintf(`<load-configuration action="set" format="text"><configuration-set>%s</configuration-set></load-configuration>`,
			html.EscapeString(payload))
	}
	return fmt.Sprintf(`<load-configuration action="merge" format="text"><configuration-text>%s</configuration-text></load-configuration>`,
		html.EscapeString(payload))
}

var setVerbs = []string{"set ", "delete ", "deactivate ", "activate ", "insert ", "rename ", "annotate ", "copy ", "protect ", "unprotect "}

func isSetPayload(payload string) bool {
	lines := util.SplitLines(payload)
	if len(lines) == 0 {
		return false
	}
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if strings.HasPrefix(l, "#") {
			continue
		}
		ok := false
		for _, v := range setVerbs {
			if strings.HasPrefix(l, v) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func rpcCommitCheck() string {
	return "<commit-configuration><check/></commit-configuration>"
}

func rpcCompare() string {
	return `<get-configuration compare="rollback" rollback="0" format="text"/>`
}

func rpcGetConfig(mode fleet.DiffMode) string {
	if mode == fleet.DiffStanza {
		return `<get-configuration format="text"/>`
	}
	return `<get-configuration format="set"/>`
}

func rpcCommit(opts fleet.CommitOptions) string {
	var b strings.Builder
	b.WriteString("<commit-configuration>")
	if opts.Synchronize {
		b.WriteString("<synchronize/>")
	}
	if opts.Comment != "" {
		fmt.Fprintf(&b, "<log>%s</log>", html.EscapeString(opts.Comment))
	}
	if opts.Confirmed() {
		fmt.Fprintf(&b, "<confirmed/><confirm-timeout>%d</confirm-timeout>", opts.ConfirmMinutes)
	}
	if opts.At != "" {
		fmt.Fprintf(&b, "<at-time>%s</at-time>", html.EscapeString(opts.At))
	}
	b.WriteString("</commit-configuration>")
	return b.String()
}
