// Package gnmi is the gNMI transport. Operational "commands" are gNMI paths
// read with Get; configuration is staged locally as Set operations and
// applied atomically by Commit.
package gnmi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
	"github.com/openconfig/gnmi/proto/gnmi_ext"
	"github.com/openconfig/gnmic/pkg/api"
	"github.com/openconfig/gnmic/pkg/api/target"
	"github.com/tidwall/gjson"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/session"
	"github.com/newtron-network/newtfleet/pkg/util"
)

const encoding = "json_ietf"

// interfacesPath is the OpenConfig subtree read by interface polls.
const interfacesPath = "/interfaces/interface/state"

// client is the part of a gnmic target the transport uses.
type client interface {
	Capabilities(ctx context.Context, ext ...*gnmi_ext.Extension) (*gnmipb.CapabilityResponse, error)
	Get(ctx context.Context, req *gnmipb.GetRequest) (*gnmipb.GetResponse, error)
	Set(ctx context.Context, req *gnmipb.SetRequest) (*gnmipb.SetResponse, error)
	Close() error
}

var _ client = (*target.Target)(nil)

// Transport is one gNMI client connection.
type Transport struct {
	t fleet.Target

	mu        sync.Mutex
	tg        client
	closed    bool
	locked    bool
	candidate []SetOp
}

// Dial is the session.Dialer for fleet.TransportGNMI.
func Dial(t fleet.Target) (session.Transport, error) {
	return &Transport{t: t}, nil
}

// Connect builds the gnmic target and opens the gRPC channel.
func (t *Transport) Connect(ctx context.Context) error {
	opts := []api.TargetOption{
		api.Name(t.t.Label()),
		api.Address(t.t.HostPort()),
		api.Timeout(t.t.ConnectTimeout),
		api.Insecure(t.t.TLS.Insecure),
		api.SkipVerify(t.t.TLS.SkipVerify),
	}
	if u := t.t.Credentials.Username; u != "" {
		opts = append(opts, api.Username(u))
	}
	if p := t.t.Credentials.Password; p != "" {
		opts = append(opts, api.Password(p))
	}
	if t.t.TLS.CAFile != "" {
		opts = append(opts, api.TLSCA(t.t.TLS.CAFile))
	}
	if t.t.TLS.CertFile != "" {
		opts = append(opts, api.TLSCert(t.t.TLS.CertFile))
	}
	if t.t.TLS.KeyFile != "" {
		opts = append(opts, api.TLSKey(t.t.TLS.KeyFile))
	}

	tg, err := api.NewTarget(opts...)
	if err != nil {
		return util.Wrapf(util.KindTransport, err, "gnmi target %s", t.t.Address)
	}
	if err := tg.CreateGNMIClient(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return util.Wrapf(util.KindConnection, err, "gnmi dial %s", t.t.HostPort())
	}
	return t.attach(tg)
}

// attach installs c as the connection. A client that arrives after Close
// is closed at once rather than leaked.
func (t *Transport) attach(c client) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		c.Close()
		return util.Wrap(util.KindCancelled, errors.New("gnmi transport closed"))
	}
	t.tg = c
	return nil
}

func (t *Transport) conn() (client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tg == nil {
		return nil, util.Wrap(util.KindConnection, errors.New("gnmi channel not open"))
	}
	return t.tg, nil
}

// Authenticate confirms the credentials with a Capabilities call, since
// gNMI carries credentials on every RPC rather than at connect time.
func (t *Transport) Authenticate(ctx context.Context) error {
	c, err := t.conn()
	if err != nil {
		return err
	}
	resp, err := c.Capabilities(ctx)
	if err != nil {
		return t.classify(ctx, err, "capabilities")
	}
	util.WithSession(t.t.Address, string(fleet.TransportGNMI)).
		Debugf("gNMI %s, %d models", resp.GetGNMIVersion(), len(resp.GetSupportedModels()))
	return nil
}

// Close releases the gRPC channel. Safe while a Connect is in flight.
func (t *Transport) Close() error {
	t.mu.Lock()
	c := t.tg
	t.tg, t.closed = nil, true
	t.locked = false
	t.candidate = nil
	t.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

// classify maps a gRPC status onto the error taxonomy.
func (t *Transport) classify(ctx context.Context, err error, rpc string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	st, ok := status.FromError(err)
	if !ok {
		return util.Wrapf(util.KindTransport, err, "gnmi %s", rpc)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return util.Wrapf(util.KindAuth, err, "gnmi %s", rpc)
	case codes.Unavailable:
		return util.Wrapf(util.KindConnection, err, "gnmi %s", rpc)
	case codes.DeadlineExceeded:
		return util.Wrapf(util.KindTimeout, err, "gnmi %s", rpc)
	case codes.Canceled:
		return util.Wrapf(util.KindCancelled, err, "gnmi %s", rpc)
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition, codes.Aborted, codes.AlreadyExists, codes.OutOfRange:
		return util.NewDeviceError(t.t.Address, st.Message(), "gnmi "+rpc+": "+st.Code().String())
	}
	return util.Wrapf(util.KindTransport, err, "gnmi %s", rpc)
}

func (t *Transport) get(ctx context.Context, dataType string, paths ...string) ([]*gnmipb.Notification, error) {
	opts := []api.GNMIOption{api.Encoding(encoding)}
	if dataType != "" {
		opts = append(opts, api.DataType(dataType))
	}
	for _, p := range paths {
		opts = append(opts, api.Path(p))
	}
	req, err := api.NewGetRequest(opts...)
	if err != nil {
		return nil, util.NewDeviceError(t.t.Address, "invalid gnmi path", err.Error())
	}
	c, err := t.conn()
	if err != nil {
		return nil, err
	}
	resp, err := c.Get(ctx, req)
	if err != nil {
		return nil, t.classify(ctx, err, "get")
	}
	return resp.GetNotification(), nil
}

// RunCommand reads the gNMI path in command and renders the result as JSON.
// Several paths may be given separated by whitespace.
func (t *Transport) RunCommand(ctx context.Context, command string, format fleet.OutputFormat) (string, error) {
	if format == fleet.FormatXML {
		return "", util.Wrap(util.KindTransport, fmt.Errorf("%w: gnmi has no xml output", util.ErrUnsupported))
	}
	paths := strings.Fields(command)
	if len(paths) == 0 {
		return "", util.NewDeviceError(t.t.Address, "empty gnmi path")
	}
	notifs, err := t.get(ctx, "", paths...)
	if err != nil {
		return "", err
	}
	out, err := NotificationsJSON(notifs)
	if err != nil {
		return "", util.Wrapf(util.KindTransport, err, "rendering %s", command)
	}
	return out + "\n", nil
}

// RunningConfig returns the configuration tree. Set mode renders one
// "path = value" line per leaf; stanza mode renders indented JSON.
func (t *Transport) RunningConfig(ctx context.Context, mode fleet.DiffMode) (string, error) {
	notifs, err := t.get(ctx, "config", "/")
	if err != nil {
		return "", err
	}
	if mode == fleet.DiffStanza {
		out, err := NotificationsJSON(notifs)
		if err != nil {
			return "", util.Wrapf(util.KindTransport, err, "rendering configuration")
		}
		return out + "\n", nil
	}
	var lines []string
	for _, n := range notifs {
		for _, u := range n.GetUpdate() {
			lines = append(lines, FlattenLines(PathString(n.GetPrefix(), u.GetPath()), ValueJSON(u.GetVal()))...)
		}
	}
	if len(lines) == 0 {
		return "", nil
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// LockConfig reserves the local candidate. gNMI has no datastore lock;
// Set is atomic, so the candidate is only ever applied in one request.
func (t *Transport) LockConfig(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locked {
		return util.Wrap(util.KindLocked, errors.New("candidate already locked by this session"))
	}
	t.locked = true
	return nil
}

func (t *Transport) UnlockConfig(ctx context.Context) error {
	t.mu.Lock()
	t.locked = false
	t.mu.Unlock()
	return nil
}

func (t *Transport) LoadConfig(ctx context.Context, payload string) error {
	ops, err := ParseSetLines(payload)
	if err != nil {
		var ve *util.ValidationError
		if errors.As(err, &ve) {
			return util.NewDeviceError(t.t.Address, "configuration rejected", ve.Errors...)
		}
		return util.NewDeviceError(t.t.Address, "configuration rejected", err.Error())
	}
	t.mu.Lock()
	t.candidate = append(t.candidate, ops...)
	t.mu.Unlock()
	return nil
}

// ValidateConfig checks each staged operation against the device. The
// request must build and the container it writes into must exist as
// config; a device NotFound or InvalidArgument fails the check. gNMI has
// no dry-run Set, so leaf values are not checked, and a write into a list
// entry that does not exist yet fails until the entry is created.
func (t *Transport) ValidateConfig(ctx context.Context) (string, error) {
	ops := t.staged()
	var problems []string
	for _, op := range ops {
		if _, err := api.NewSetRequest(setOptions([]SetOp{op})...); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", op, err))
			continue
		}
		parent := ParentPath(op.Path)
		if parent == "/" {
			continue
		}
		if _, err := t.get(ctx, "config", parent); err != nil {
			if util.Classify(err) != util.KindDevice {
				return "", err
			}
			problems = append(problems, fmt.Sprintf("%s: %s not found on device: %v", op, parent, err))
		}
	}
	if len(problems) > 0 {
		return "", util.NewDeviceError(t.t.Address, "configuration check failed", problems...)
	}
	return fmt.Sprintf("configuration check succeeds: %d operation(s) checked against %s\n", len(ops), t.t.Address), nil
}

// ParentPath returns the container path holding p. Slashes inside list
// keys, as in /interfaces/interface[name=ge-0/0/0], do not split.
func ParentPath(p string) string {
	depth, cut := 0, -1
	for i, r := range p {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case '/':
			if depth == 0 {
				cut = i
			}
		}
	}
	if cut <= 0 {
		return "/"
	}
	return p[:cut]
}

// CompareConfig shows each staged operation against the device's current
// value at its path.
func (t *Transport) CompareConfig(ctx context.Context) (string, error) {
	var b strings.Builder
	for _, op := range t.staged() {
		current := "(absent)"
		notifs, err := t.get(ctx, "config", op.Path)
		if err == nil {
			if cur := strings.TrimSpace(firstValue(notifs)); cur != "" {
				current = cur
			}
		} else if util.Classify(err) != util.KindDevice {
			return "", err
		}
		fmt.Fprintf(&b, "[%s]\n- %s\n", op.Path, current)
		if op.Kind != "delete" {
			fmt.Fprintf(&b, "+ %s (%s)\n", op.Value, op.Kind)
		}
	}
	if b.Len() == 0 {
		return "no changes staged\n", nil
	}
	return b.String(), nil
}

func firstValue(notifs []*gnmipb.Notification) string {
	for _, n := range notifs {
		for _, u := range n.GetUpdate() {
			return gjson.Parse(ValueJSON(u.GetVal())).Raw
		}
	}
	return ""
}

// Commit applies the candidate in one Set request. Confirmed, scheduled,
// and synchronized commits need a device-side commit model gNMI lacks.
func (t *Transport) Commit(ctx context.Context, opts fleet.CommitOptions) (string, error) {
	switch {
	case opts.Confirmed():
		return "", util.Wrap(util.KindTransport, fmt.Errorf("%w: commit confirmed over gnmi", util.ErrUnsupported))
	case opts.At != "":
		return "", util.Wrap(util.KindTransport, fmt.Errorf("%w: scheduled commit over gnmi", util.ErrUnsupported))
	case opts.Synchronize:
		return "", util.Wrap(util.KindTransport, fmt.Errorf("%w: synchronized commit over gnmi", util.ErrUnsupported))
	}

	ops := t.staged()
	if len(ops) == 0 {
		return "nothing to commit\n", nil
	}
	req, err := api.NewSetRequest(setOptions(ops)...)
	if err != nil {
		return "", util.NewDeviceError(t.t.Address, "invalid set request", err.Error())
	}
	c, err := t.conn()
	if err != nil {
		return "", err
	}
	resp, err := c.Set(ctx, req)
	if err != nil {
		return "", t.classify(ctx, err, "set")
	}

	t.mu.Lock()
	t.candidate = nil
	t.mu.Unlock()

	msg := fmt.Sprintf("commit complete: %d operation(s) applied", len(resp.GetResponse()))
	if opts.Comment != "" {
		msg += fmt.Sprintf(" (%s)", opts.Comment)
	}
	return msg + "\n", nil
}

func (t *Transport) DiscardConfig(ctx context.Context) error {
	t.mu.Lock()
	t.candidate = nil
	t.mu.Unlock()
	return nil
}

func (t *Transport) staged() []SetOp {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SetOp(nil), t.candidate...)
}

// PollInterfaces reads OpenConfig interface state and error counters.
func (t *Transport) PollInterfaces(ctx context.Context) ([]fleet.InterfaceCounters, error) {
	notifs, err := t.get(ctx, "state", interfacesPath)
	if err != nil {
		return nil, err
	}
	return ParseInterfaces(notifs), nil
}

// ParseInterfaces extracts interface counters from Get notifications. Each
// update is either one interface's state container or a list of interfaces.
func ParseInterfaces(notifs []*gnmipb.Notification) []fleet.InterfaceCounters {
	var out []fleet.InterfaceCounters
	for _, n := range notifs {
		for _, u := range n.GetUpdate() {
			val := gjson.Parse(ValueJSON(u.GetVal()))
			if list := field(val, "interface"); list.IsArray() {
				for _, e := range list.Array() {
					out = append(out, counters(field(e, "name").String(), field(e, "state")))
				}
				continue
			}
			name := lastKey(n.GetPrefix(), u.GetPath(), "name")
			if st := field(val, "state"); st.IsObject() {
				val = st
			}
			out = append(out, counters(name, val))
		}
	}
	for i := range out {
		if out[i].Index == 0 {
			out[i].Index = i + 1
		}
	}
	return out
}

func counters(name string, state gjson.Result) fleet.InterfaceCounters {
	c := field(state, "counters")
	return fleet.InterfaceCounters{
		Index:     int(field(state, "ifindex").Int()),
		Name:      name,
		AdminUp:   strings.EqualFold(field(state, "admin-status").String(), "UP"),
		OperUp:    strings.EqualFold(field(state, "oper-status").String(), "UP"),
		InErrors:  field(c, "in-errors").Uint(),
		OutErrors: field(c, "out-errors").Uint(),
	}
}

var (
	_ session.Commander       = (*Transport)(nil)
	_ session.Configurer      = (*Transport)(nil)
	_ session.ConfigFetcher   = (*Transport)(nil)
	_ session.InterfacePoller = (*Transport)(nil)
)
