// Command authsyncctl is a thin, scriptable front end to this module: it
// issues and describes capability tokens, builds invite payloads, and can
// drive one sync-session reconciliation pass against a peer over TCP.
// It exists to exercise the library end to end from a shell, not as a
// user-facing product surface.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/treecrdt/authsync/backend"
	"github.com/treecrdt/authsync/captoken"
	"github.com/treecrdt/authsync/invite"
	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/syncauth"
	"github.com/treecrdt/authsync/syncmsg"
	"github.com/treecrdt/authsync/syncpeer"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "issue":
		err = runIssue(os.Args[2:])
	case "delegate":
		err = runDelegate(os.Args[2:])
	case "describe":
		err = runDescribe(os.Args[2:])
	case "invite":
		err = runInvite(os.Args[2:])
	case "sync-once":
		err = runSyncOnce(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "authsyncctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: authsyncctl <issue|delegate|describe|invite|sync-once> [flags]")
}

func parseActions(csv string) []opmodel.Action {
	parts := strings.Split(csv, ",")
	out := make([]opmodel.Action, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, opmodel.Action(p))
		}
	}
	return out
}

func parseSk(hexOrB64 string) (ed25519.PrivateKey, error) {
	if b, err := hex.DecodeString(hexOrB64); err == nil {
		return ed25519.PrivateKey(b), nil
	}
	b, err := base64.StdEncoding.DecodeString(hexOrB64)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	return ed25519.PrivateKey(b), nil
}

func parsePk(hexOrB64 string) (ed25519.PublicKey, error) {
	if b, err := hex.DecodeString(hexOrB64); err == nil {
		return ed25519.PublicKey(b), nil
	}
	b, err := base64.StdEncoding.DecodeString(hexOrB64)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}
	return ed25519.PublicKey(b), nil
}

func runIssue(args []string) error {
	fs := flag.NewFlagSet("issue", flag.ExitOnError)
	issuerSkHex := fs.String("issuer-sk", "", "issuer Ed25519 private key, hex or base64")
	subjectPkHex := fs.String("subject-pk", "", "subject Ed25519 public key, hex or base64")
	docId := fs.String("doc", "", "document id")
	actions := fs.String("actions", "", "comma-separated action list")
	maxDepth := fs.Uint("max-depth", 0, "scope max depth (0 = unbounded)")
	fs.Parse(args)

	issuerSk, err := parseSk(*issuerSkHex)
	if err != nil {
		return err
	}
	subjectPk, err := parsePk(*subjectPkHex)
	if err != nil {
		return err
	}

	var opts []captoken.IssueOption
	if *maxDepth > 0 {
		opts = append(opts, captoken.WithMaxDepth(uint32(*maxDepth)))
	}

	token, err := captoken.IssueCapabilityToken(issuerSk, subjectPk, *docId, parseActions(*actions), opts...)
	if err != nil {
		return err
	}
	fmt.Println(base64.StdEncoding.EncodeToString(token))
	return nil
}

func runDelegate(args []string) error {
	fs := flag.NewFlagSet("delegate", flag.ExitOnError)
	delegatorSkHex := fs.String("delegator-sk", "", "delegator Ed25519 private key, hex or base64")
	proofTokenB64 := fs.String("proof-token", "", "base64-encoded proof token envelope")
	subjectPkHex := fs.String("subject-pk", "", "subject Ed25519 public key, hex or base64")
	docId := fs.String("doc", "", "document id")
	actions := fs.String("actions", "", "comma-separated action list")
	fs.Parse(args)

	delegatorSk, err := parseSk(*delegatorSkHex)
	if err != nil {
		return err
	}
	proofToken, err := base64.StdEncoding.DecodeString(*proofTokenB64)
	if err != nil {
		return fmt.Errorf("decoding proof token: %w", err)
	}
	subjectPk, err := parsePk(*subjectPkHex)
	if err != nil {
		return err
	}

	token, err := captoken.IssueDelegatedCapabilityToken(delegatorSk, proofToken, subjectPk, *docId, parseActions(*actions))
	if err != nil {
		return err
	}
	fmt.Println(base64.StdEncoding.EncodeToString(token))
	return nil
}

func runDescribe(args []string) error {
	fs := flag.NewFlagSet("describe", flag.ExitOnError)
	tokenB64 := fs.String("token", "", "base64-encoded token envelope")
	issuerPkHex := fs.String("issuer-pk", "", "issuer Ed25519 public key, hex or base64")
	docId := fs.String("doc", "", "document id")
	fs.Parse(args)

	token, err := base64.StdEncoding.DecodeString(*tokenB64)
	if err != nil {
		return fmt.Errorf("decoding token: %w", err)
	}
	issuerPk, err := parsePk(*issuerPkHex)
	if err != nil {
		return err
	}

	caps, err := captoken.DescribeCapabilityToken(context.Background(), token, []ed25519.PublicKey{issuerPk}, *docId, uint64(time.Now().Unix()))
	if err != nil {
		return err
	}
	enc, err := json.MarshalIndent(caps, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}

func runInvite(args []string) error {
	fs := flag.NewFlagSet("invite", flag.ExitOnError)
	docId := fs.String("doc", "", "document id")
	issuerPkHex := fs.String("issuer-pk", "", "issuer Ed25519 public key, hex or base64")
	subjectSkHex := fs.String("subject-sk", "", "subject Ed25519 private key, hex or base64")
	tokenB64 := fs.String("token", "", "base64-encoded token envelope")
	fs.Parse(args)

	issuerPk, err := parsePk(*issuerPkHex)
	if err != nil {
		return err
	}
	subjectSk, err := parseSk(*subjectSkHex)
	if err != nil {
		return err
	}
	token, err := base64.StdEncoding.DecodeString(*tokenB64)
	if err != nil {
		return fmt.Errorf("decoding token: %w", err)
	}

	p := invite.New(*docId, issuerPk, subjectSk, token, nil)
	enc, err := invite.Encode(p)
	if err != nil {
		return err
	}
	fmt.Printf("#invite=%s\n", enc)
	return nil
}

func runSyncOnce(args []string) error {
	fs := flag.NewFlagSet("sync-once", flag.ExitOnError)
	docId := fs.String("doc", "", "document id")
	listenAddr := fs.String("listen", "", "listen for one incoming connection (responder mode)")
	dialAddr := fs.String("dial", "", "dial a peer and run one reconciliation pass (initiator mode)")
	timeoutSec := fs.Int("timeout", 15, "deadline for the whole exchange, in seconds")
	fs.Parse(args)

	if *listenAddr == "" && *dialAddr == "" {
		return errListenerRequired
	}

	var conn net.Conn
	var err error
	if *dialAddr != "" {
		conn, err = net.Dial("tcp", *dialAddr)
	} else {
		var ln net.Listener
		ln, err = net.Listen("tcp", *listenAddr)
		if err == nil {
			conn, err = ln.Accept()
			ln.Close()
		}
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	tp := newConnTransport(conn)
	defer tp.Close()

	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	b := backend.NewMemory()
	auth := syncauth.New(*docId, nil, nil, nil)
	peer := syncpeer.NewPeer(*docId, b, auth, syncpeer.WithLogger(log))
	sess := syncpeer.NewSession(peer, tp)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutSec)*time.Second)
	defer cancel()

	// Run and (in initiator mode) SyncOnce race to completion jointly: once
	// SyncOnce finishes, doneCh tells Run's goroutine to stop treating its
	// own context cancellation as a failure, and g.Wait collects whichever
	// real error arrives first.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	doneCh := make(chan struct{})
	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		err := sess.Run(gCtx)
		select {
		case <-doneCh:
			return nil
		default:
			return err
		}
	})

	if *dialAddr != "" {
		err := sess.SyncOnce(ctx, syncmsg.AllFilter())
		close(doneCh)
		cancelRun()
		if err != nil {
			_ = g.Wait()
			return err
		}
		return g.Wait()
	}

	return g.Wait()
}
