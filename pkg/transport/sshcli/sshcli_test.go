package sshcli

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/util"
)

func TestCLIError(t *testing.T) {
	tests := []struct {
		out  string
		want bool
	}{
		{"Hostname: core-1\nModel: mx204\n", false},
		{"                  ^\nsyntax error, expecting <command>.\n", true},
		{"error: configuration database locked by:\n  lab terminal p0\n", true},
		{"unknown command.\n", true},
		{"", false},
	}
	for _, tt := range tests {
		if _, got := cliError(tt.out); got != tt.want {
			t.Errorf("cliError(%q) = %v, want %v", tt.out, got, tt.want)
		}
	}
}

func TestShellCommand(t *testing.T) {
	got := ShellCommand(`grep "Link" /var/log/messages`)
	want := `start shell command "grep \"Link\" /var/log/messages"`
	if got != want {
		t.Errorf("ShellCommand() = %s, want %s", got, want)
	}
}

func TestClientConfig(t *testing.T) {
	target := fleet.Target{Address: "r1", Credentials: fleet.Credentials{Username: "lab", Password: "pw"}}
	cfg, err := ClientConfig(target)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.User != "lab" || len(cfg.Auth) != 2 {
		t.Errorf("config user %q with %d auth methods", cfg.User, len(cfg.Auth))
	}

	if _, err := ClientConfig(fleet.Target{Address: "r1"}); err == nil {
		t.Error("no credentials should fail")
	}

	bad := filepath.Join(t.TempDir(), "id_rsa")
	os.WriteFile(bad, []byte("not a key"), 0600)
	target.Credentials.KeyFile = bad
	if _, err := ClientConfig(target); err == nil {
		t.Error("unparseable key should fail")
	}
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	c := NewClient(fleet.Target{Address: "127.0.0.1", Port: addr.Port, Transport: fleet.TransportSSH})
	err = c.Connect(context.Background())
	if util.Classify(err) != util.KindConnection {
		t.Errorf("Connect() error = %v, kind %s", err, util.Classify(err))
	}
}

func TestAuthenticateHandshakeTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		// accept and never speak
		conn, err := ln.Accept()
		if err == nil {
			time.Sleep(2 * time.Second)
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	c := NewClient(fleet.Target{
		Address:     "127.0.0.1",
		Port:        port,
		Transport:   fleet.TransportSSH,
		Credentials: fleet.Credentials{Username: "lab", Password: "pw"},
	})
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = c.Authenticate(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Authenticate() error = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Authenticate() ignored the deadline")
	}
}

func TestConnectAfterCloseReleasesSocket(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	peerClosed := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			peerClosed <- err
			return
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err = conn.Read(make([]byte, 1))
		peerClosed <- err
	}()

	c := NewClient(fleet.Target{Address: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port, Transport: fleet.TransportSSH})
	c.Close()
	err = c.Connect(context.Background())
	if util.Classify(err) != util.KindCancelled {
		t.Errorf("Connect() after Close error = %v, kind %s", err, util.Classify(err))
	}
	if err := <-peerClosed; !errors.Is(err, io.EOF) {
		t.Errorf("socket dialed after Close was left open: %v", err)
	}
	if c.SSH() != nil {
		t.Error("closed client holds an ssh connection")
	}
}

func TestExecBeforeAuthenticate(t *testing.T) {
	c := NewClient(fleet.Target{Address: "r1"})
	if _, err := c.Exec(context.Background(), "show version"); err == nil || !strings.Contains(err.Error(), "not established") {
		t.Errorf("Exec() error = %v", err)
	}
}
