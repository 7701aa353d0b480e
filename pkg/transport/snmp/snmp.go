// Package snmp is the SNMP v2c transport. It reads IF-MIB interface status
// and error counters, and treats commands as OIDs to get or walk.
package snmp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/session"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// DefaultCommunity is used when the target carries none.
const DefaultCommunity = "public"

const (
	oidSysDescr = ".1.3.6.1.2.1.1.1.0"

	oidIfDescr       = ".1.3.6.1.2.1.2.2.1.2"
	oidIfAdminStatus = ".1.3.6.1.2.1.2.2.1.7"
	oidIfOperStatus  = ".1.3.6.1.2.1.2.2.1.8"
	oidIfInErrors    = ".1.3.6.1.2.1.2.2.1.14"
	oidIfOutErrors   = ".1.3.6.1.2.1.2.2.1.20"
	oidIfName        = ".1.3.6.1.2.1.31.1.1.1.1"
)

// ifColumns are walked in order by PollInterfaces.
var ifColumns = []string{oidIfDescr, oidIfAdminStatus, oidIfOperStatus, oidIfInErrors, oidIfOutErrors, oidIfName}

// Transport is one SNMP agent.
type Transport struct {
	t fleet.Target

	mu     sync.Mutex
	client *gosnmp.GoSNMP
}

// Dial is the session.Dialer for fleet.TransportSNMP.
func Dial(t fleet.Target) (session.Transport, error) {
	return &Transport{t: t}, nil
}

// Connect opens the UDP socket. Reachability is only known after the first
// request, which Authenticate makes.
func (t *Transport) Connect(ctx context.Context) error {
	community := t.t.Credentials.Community
	if community == "" {
		community = DefaultCommunity
	}
	client := &gosnmp.GoSNMP{
		Target:             t.t.Address,
		Port:               uint16(t.t.Port),
		Transport:          "udp",
		Community:          community,
		Version:            gosnmp.Version2c,
		Timeout:            t.t.ConnectTimeout,
		Retries:            1,
		MaxOids:            gosnmp.MaxOids,
		MaxRepetitions:     25,
		ExponentialTimeout: false,
		Context:            ctx,
	}
	if err := client.Connect(); err != nil {
		return util.Wrapf(util.KindConnection, err, "snmp %s", t.t.HostPort())
	}
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
	return nil
}

// Authenticate reads sysDescr. A v2c agent silently drops requests with a
// wrong community, so no response is reported as a connection failure
// naming both causes.
func (t *Transport) Authenticate(ctx context.Context) error {
	pkt, err := t.get(ctx, []string{oidSysDescr})
	if err != nil {
		if util.Classify(err) == util.KindTimeout && ctx.Err() == nil {
			return util.Wrapf(util.KindConnection, err, "no response from %s (unreachable or community rejected)", t.t.Address)
		}
		return err
	}
	if len(pkt.Variables) > 0 {
		util.WithSession(t.t.Address, string(fleet.TransportSNMP)).Debugf("sysDescr: %s", PDUString(pkt.Variables[0]))
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil || t.client.Conn == nil {
		return nil
	}
	err := t.client.Conn.Close()
	t.client = nil
	return err
}

// use runs fn with the client bound to ctx. gosnmp clients are not safe
// for concurrent requests.
func (t *Transport) use(ctx context.Context, fn func(c *gosnmp.GoSNMP) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return util.Wrap(util.KindConnection, errors.New("snmp socket not open"))
	}
	c := t.client
	c.Context = ctx
	c.Timeout = t.t.ConnectTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < c.Timeout {
		c.Timeout = time.Until(dl)
	}
	// Unblock a pending read; gosnmp checks Context between retries.
	stop := context.AfterFunc(ctx, func() { c.Conn.SetReadDeadline(time.Now()) })
	defer stop()
	if err := fn(c); err != nil {
		return t.classify(ctx, err)
	}
	return nil
}

func (t *Transport) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if strings.Contains(err.Error(), "timeout") {
		return util.Wrapf(util.KindTimeout, err, "snmp %s", t.t.Address)
	}
	return util.Wrapf(util.KindTransport, err, "snmp %s", t.t.Address)
}

func (t *Transport) get(ctx context.Context, oids []string) (*gosnmp.SnmpPacket, error) {
	var pkt *gosnmp.SnmpPacket
	err := t.use(ctx, func(c *gosnmp.GoSNMP) error {
		var err error
		pkt, err = c.Get(oids)
		return err
	})
	if err != nil {
		return nil, err
	}
	if pkt.Error != gosnmp.NoError {
		return nil, util.NewDeviceError(t.t.Address, "snmp error", pkt.Error.String())
	}
	return pkt, nil
}

func (t *Transport) walk(ctx context.Context, root string) ([]gosnmp.SnmpPDU, error) {
	var pdus []gosnmp.SnmpPDU
	err := t.use(ctx, func(c *gosnmp.GoSNMP) error {
		var err error
		pdus, err = c.BulkWalkAll(root)
		return err
	})
	return pdus, err
}

// RunCommand gets the OIDs in command, or walks the subtree with
// "walk <oid>". Output is one "oid = value" line per variable.
func (t *Transport) RunCommand(ctx context.Context, command string, format fleet.OutputFormat) (string, error) {
	if format == fleet.FormatXML {
		return "", util.Wrap(util.KindTransport, fmt.Errorf("%w: snmp has no xml output", util.ErrUnsupported))
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", util.NewDeviceError(t.t.Address, "empty oid")
	}

	var pdus []gosnmp.SnmpPDU
	if fields[0] == "walk" {
		if len(fields) != 2 {
			return "", util.NewDeviceError(t.t.Address, "usage: walk <oid>")
		}
		var err error
		if pdus, err = t.walk(ctx, fields[1]); err != nil {
			return "", err
		}
	} else {
		pkt, err := t.get(ctx, fields)
		if err != nil {
			return "", err
		}
		pdus = pkt.Variables
	}

	var b strings.Builder
	for _, p := range pdus {
		fmt.Fprintf(&b, "%s = %s\n", p.Name, PDUString(p))
	}
	return b.String(), nil
}

// PollInterfaces walks the IF-MIB columns and joins them by ifIndex.
func (t *Transport) PollInterfaces(ctx context.Context) ([]fleet.InterfaceCounters, error) {
	columns := make(map[string][]gosnmp.SnmpPDU, len(ifColumns))
	for _, col := range ifColumns {
		pdus, err := t.walk(ctx, col)
		if err != nil {
			if col == oidIfName && util.Classify(err) != util.KindCancelled {
				// ifXTable is optional.
				continue
			}
			return nil, err
		}
		columns[col] = pdus
	}
	return Interfaces(columns), nil
}

// Interfaces joins walked IF-MIB columns, keyed by column OID, into one
// entry per ifIndex ordered by index. ifName is preferred over ifDescr.
func Interfaces(columns map[string][]gosnmp.SnmpPDU) []fleet.InterfaceCounters {
	byIndex := make(map[int]*fleet.InterfaceCounters)
	entry := func(idx int) *fleet.InterfaceCounters {
		c, ok := byIndex[idx]
		if !ok {
			c = &fleet.InterfaceCounters{Index: idx}
			byIndex[idx] = c
		}
		return c
	}

	for col, pdus := range columns {
		for _, p := range pdus {
			idx, ok := index(col, p.Name)
			if !ok {
				continue
			}
			c := entry(idx)
			switch col {
			case oidIfDescr:
				if c.Name == "" {
					c.Name = PDUString(p)
				}
			case oidIfName:
				if name := PDUString(p); name != "" {
					c.Name = name
				}
			case oidIfAdminStatus:
				c.AdminUp = gosnmp.ToBigInt(p.Value).Int64() == 1
			case oidIfOperStatus:
				c.OperUp = gosnmp.ToBigInt(p.Value).Int64() == 1
			case oidIfInErrors:
				c.InErrors = gosnmp.ToBigInt(p.Value).Uint64()
			case oidIfOutErrors:
				c.OutErrors = gosnmp.ToBigInt(p.Value).Uint64()
			}
		}
	}

	out := make([]fleet.InterfaceCounters, 0, len(byIndex))
	for _, c := range byIndex {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// index extracts the ifIndex suffix of name under column.
func index(column, name string) (int, bool) {
	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}
	suffix, ok := strings.CutPrefix(name, column+".")
	if !ok {
		return 0, false
	}
	idx, err := strconv.Atoi(suffix)
	return idx, err == nil
}

// PDUString renders a variable's value for display.
func PDUString(p gosnmp.SnmpPDU) string {
	switch p.Type {
	case gosnmp.OctetString:
		if b, ok := p.Value.([]byte); ok {
			return string(b)
		}
	case gosnmp.ObjectIdentifier, gosnmp.IPAddress:
		if s, ok := p.Value.(string); ok {
			return s
		}
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return p.Type.String()
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Counter64, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(p.Value).String()
	}
	return fmt.Sprint(p.Value)
}

var (
	_ session.Commander       = (*Transport)(nil)
	_ session.InterfacePoller = (*Transport)(nil)
)
