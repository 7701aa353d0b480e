// Package scp implements the SCP copy protocol over an SSH client. Both
// directions are recursive: a directory source is copied with its tree.
package scp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Stats counts what a copy moved.
type Stats struct {
	Files int
	Bytes int64
}

func (s Stats) String() string {
	return fmt.Sprintf("%d file(s), %d bytes", s.Files, s.Bytes)
}

// RemoteError is a failure reported by the remote scp process.
type RemoteError struct {
	Fatal   bool
	Message string
}

func (e *RemoteError) Error() string {
	return "scp: " + e.Message
}

// Push copies local to remote over client.
func Push(ctx context.Context, client *ssh.Client, local, remote string) (Stats, error) {
	info, err := os.Stat(local)
	if err != nil {
		return Stats{}, err
	}
	cmd := "scp -t " + quote(remote)
	if info.IsDir() {
		cmd = "scp -r -t " + quote(remote)
	}
	return run(ctx, client, cmd, func(w io.Writer, r *bufio.Reader) (Stats, error) {
		return Send(w, r, local)
	})
}

// Pull copies remote to local over client. When local is an existing
// directory the remote file or tree is placed inside it.
func Pull(ctx context.Context, client *ssh.Client, remote, local string) (Stats, error) {
	return run(ctx, client, "scp -r -f "+quote(remote), func(w io.Writer, r *bufio.Reader) (Stats, error) {
		return Receive(w, r, local)
	})
}

func run(ctx context.Context, client *ssh.Client, cmd string, proto func(io.Writer, *bufio.Reader) (Stats, error)) (Stats, error) {
	sess, err := client.NewSession()
	if err != nil {
		return Stats{}, fmt.Errorf("scp session: %w", err)
	}
	defer sess.Close()

	stdin, err := sess.StdinPipe()
	if err != nil {
		return Stats{}, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return Stats{}, err
	}
	if err := sess.Start(cmd); err != nil {
		return Stats{}, fmt.Errorf("scp start: %w", err)
	}

	type result struct {
		stats Stats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		st, err := proto(stdin, bufio.NewReader(stdout))
		stdin.Close()
		if err == nil {
			err = sess.Wait()
		}
		done <- result{st, err}
	}()

	select {
	case r := <-done:
		return r.stats, r.err
	case <-ctx.Done():
		sess.Close()
		<-done
		return Stats{}, ctx.Err()
	}
}

// Send runs the source side of the protocol for path, writing to w and
// reading acknowledgements from r.
func Send(w io.Writer, r *bufio.Reader, path string) (Stats, error) {
	var st Stats
	if err := readAck(r); err != nil {
		return st, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return st, err
	}
	if info.IsDir() {
		err = sendDir(w, r, path, info, &st)
	} else {
		err = sendFile(w, r, path, info, &st)
	}
	return st, err
}

func sendFile(w io.Writer, r *bufio.Reader, path string, info os.FileInfo, st *Stats) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintf(w, "C%04o %d %s\n", info.Mode().Perm(), info.Size(), info.Name()); err != nil {
		return err
	}
	if err := readAck(r); err != nil {
		return err
	}
	n, err := io.Copy(w, f)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return err
	}
	if err := readAck(r); err != nil {
		return err
	}
	st.Files++
	st.Bytes += n
	return nil
}

func sendDir(w io.Writer, r *bufio.Reader, path string, info os.FileInfo, st *Stats) error {
	if _, err := fmt.Fprintf(w, "D%04o 0 %s\n", info.Mode().Perm(), info.Name()); err != nil {
		return err
	}
	if err := readAck(r); err != nil {
		return err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		child := filepath.Join(path, e.Name())
		ci, err := os.Stat(child)
		if err != nil {
			return err
		}
		if ci.IsDir() {
			err = sendDir(w, r, child, ci, st)
		} else if ci.Mode().IsRegular() {
			err = sendFile(w, r, child, ci, st)
		}
		if err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "E\n"); err != nil {
		return err
	}
	return readAck(r)
}

// Receive runs the sink side of the protocol into dest.
func Receive(w io.Writer, r *bufio.Reader, dest string) (Stats, error) {
	var st Stats
	dirs := []string{}
	cwd := func() string {
		if len(dirs) == 0 {
			return dest
		}
		return dirs[len(dirs)-1]
	}
	destIsDir := false
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		destIsDir = true
	}

	if err := ack(w); err != nil {
		return st, err
	}
	for {
		kind, err := r.ReadByte()
		if err == io.EOF {
			return st, nil
		}
		if err != nil {
			return st, err
		}
		switch kind {
		case 1, 2:
			line, _ := r.ReadString('\n')
			return st, &RemoteError{Fatal: kind == 2, Message: strings.TrimSpace(line)}

		case 'T':
			if _, err := r.ReadString('\n'); err != nil {
				return st, err
			}
			if err := ack(w); err != nil {
				return st, err
			}

		case 'C', 'D':
			line, err := r.ReadString('\n')
			if err != nil {
				return st, err
			}
			mode, size, name, err := parseHeader(strings.TrimSuffix(line, "\n"))
			if err != nil {
				return st, err
			}
			target := filepath.Join(cwd(), name)
			if len(dirs) == 0 && !destIsDir {
				target = dest
			}

			if kind == 'D' {
				if err := os.MkdirAll(target, mode|0700); err != nil {
					return st, err
				}
				dirs = append(dirs, target)
				if err := ack(w); err != nil {
					return st, err
				}
				continue
			}

			if err := ack(w); err != nil {
				return st, err
			}
			if err := receiveFile(r, target, mode, size); err != nil {
				return st, err
			}
			if err := readAck(r); err != nil {
				return st, err
			}
			if err := ack(w); err != nil {
				return st, err
			}
			st.Files++
			st.Bytes += size

		case 'E':
			if _, err := r.ReadString('\n'); err != nil {
				return st, err
			}
			if len(dirs) == 0 {
				return st, errors.New("scp: unbalanced end of directory")
			}
			dirs = dirs[:len(dirs)-1]
			if err := ack(w); err != nil {
				return st, err
			}

		default:
			return st, fmt.Errorf("scp: unexpected message type %q", kind)
		}
	}
}

func receiveFile(r io.Reader, path string, mode os.FileMode, size int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(f, r, size); err != nil {
		f.Close()
		return fmt.Errorf("scp: receiving %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// parseHeader parses "0644 1234 name" from a C or D message.
func parseHeader(line string) (os.FileMode, int64, string, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return 0, 0, "", fmt.Errorf("scp: malformed header %q", line)
	}
	mode, err := strconv.ParseUint(parts[0], 8, 32)
	if err != nil {
		return 0, 0, "", fmt.Errorf("scp: bad mode in %q", line)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return 0, 0, "", fmt.Errorf("scp: bad size in %q", line)
	}
	name := parts[2]
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, '/') {
		return 0, 0, "", fmt.Errorf("scp: refusing file name %q", name)
	}
	return os.FileMode(mode).Perm(), size, name, nil
}

func ack(w io.Writer) error {
	_, err := w.Write([]byte{0})
	return err
}

func readAck(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("scp: reading acknowledgement: %w", err)
	}
	if b == 0 {
		return nil
	}
	line, _ := r.ReadString('\n')
	return &RemoteError{Fatal: b == 2, Message: strings.TrimSpace(line)}
}

// quote single-quotes a path for the remote shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
