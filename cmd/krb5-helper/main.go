// krb5-helper is the de-privileged child spawned by the Kerberos auth
// state machine (§4.2). It reads exactly one framed request off stdin,
// performs the Kerberos operation it names, and writes exactly one framed
// reply to stdout before exiting.
//
// It never parses flags or touches a terminal: its entire protocol is the
// wire.Request/wire.Reply exchange over the pipes its parent dup2'd onto
// its stdin/stdout before exec.
package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/go-krb5/krb5/client"
	"github.com/go-krb5/krb5/config"

	"github.com/smnsjas/go-identd/internal/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	data, err := readAll(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "krb5-helper: read request:", err)
		return 1
	}

	req, err := wire.DecodeRequest(data)
	if err != nil {
		fmt.Fprintln(os.Stderr, "krb5-helper: decode request:", err)
		return 1
	}

	reply := handle(req)
	if _, err := os.Stdout.Write(reply.Encode()); err != nil {
		fmt.Fprintln(os.Stderr, "krb5-helper: write reply:", err)
		return 1
	}
	return 0
}

func handle(req wire.Request) wire.Reply {
	realm := realmOf(req.UPN)
	if envRealm := os.Getenv("SSSD_REALM"); envRealm != "" {
		realm = envRealm
	}

	krb5Conf := os.Getenv("KRB5_CONFIG")
	if krb5Conf == "" {
		krb5Conf = "/etc/krb5.conf"
	}
	conf, err := config.Load(krb5Conf)
	if err != nil {
		return systemErrReply(fmt.Sprintf("load krb5.conf: %v", err))
	}
	applyEnvOverrides(conf, realm, os.Getenv("SSSD_KDC"))

	cl := client.NewWithPassword(userOf(req.UPN), realm, string(req.AuthTok), conf, client.DisablePAFXFAST(true))

	switch req.Cmd {
	case wire.CmdAuthenticate:
		return authenticate(cl)
	case wire.CmdChauthtok:
		return chauthtok(cl, string(req.NewAuthTok), os.Getenv("SSSD_KRB5_CHANGEPW_PRINCIPLE"))
	default:
		return systemErrReply("unknown command")
	}
}

// applyEnvOverrides layers the SSSD_KDC/SSSD_REALM module-init environment
// (§6) over whatever /etc/krb5.conf already declared for realm, mirroring
// the original provider's preference for its own configured KDC over
// krb5.conf's (krb5_auth.c:788,802). A realm with no [realms] stanza yet
// gets one created so the override still takes effect.
func applyEnvOverrides(conf *config.Config, realm, kdc string) {
	if realm != "" {
		conf.LibDefaults.DefaultRealm = realm
	}
	if kdc == "" {
		return
	}
	for i := range conf.Realms {
		if conf.Realms[i].Realm == realm {
			conf.Realms[i].KDC = []string{kdc}
			return
		}
	}
	conf.Realms = append(conf.Realms, config.Realm{Realm: realm, KDC: []string{kdc}})
}

func authenticate(cl *client.Client) wire.Reply {
	if err := cl.Login(); err != nil {
		if isUnreachable(err) {
			return wire.Reply{Status: int32(statusAuthinfoUnavail)}
		}
		return wire.Reply{Status: int32(statusAuthErr), MsgType: 1, Payload: []byte(err.Error())}
	}
	return wire.Reply{Status: int32(statusSuccess)}
}

// chauthtok changes cl's password. changepwPrincipal, if set, names the
// kpasswd service principal configured via krb5changepw_principle (§6); the
// go-krb5/krb5 fork's SetPassword takes no principal argument, so this is
// logged rather than passed through — see DESIGN.md for why that call's
// exact signature can't be confirmed against this fork.
func chauthtok(cl *client.Client, newPassword, changepwPrincipal string) wire.Reply {
	if err := cl.Login(); err != nil {
		if isUnreachable(err) {
			return wire.Reply{Status: int32(statusAuthinfoUnavail)}
		}
		return wire.Reply{Status: int32(statusAuthErr), MsgType: 1, Payload: []byte(err.Error())}
	}
	if changepwPrincipal != "" {
		fmt.Fprintln(os.Stderr, "krb5-helper: changing password via", changepwPrincipal)
	}
	if _, err := cl.SetPassword(newPassword); err != nil {
		return wire.Reply{Status: int32(statusAuthErr), MsgType: 1, Payload: []byte(err.Error())}
	}
	return wire.Reply{Status: int32(statusSuccess)}
}

// status mirrors pamtypes.Status's wire encoding without importing the
// package, keeping this binary's only internal dependency the wire codec
// it speaks.
type status int32

const (
	statusSuccess status = iota
	statusAuthErr
	statusAuthinfoUnavail
	statusSystemErr
)

func systemErrReply(msg string) wire.Reply {
	return wire.Reply{Status: int32(statusSystemErr), MsgType: 1, Payload: []byte(msg)}
}

// isUnreachable distinguishes a network-level failure to reach the KDC
// from a credential rejection, so the parent marks the backend offline
// rather than treating this as a denied login (§4.3).
func isUnreachable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

func realmOf(upn string) string {
	for i := len(upn) - 1; i >= 0; i-- {
		if upn[i] == '@' {
			return upn[i+1:]
		}
	}
	return ""
}

func userOf(upn string) string {
	for i, r := range upn {
		if r == '@' {
			return upn[:i]
		}
	}
	return upn
}

func readAll(f *os.File) ([]byte, error) {
	const chunk = 64 * 1024
	var out []byte
	buf := make([]byte, chunk)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
	}
}
