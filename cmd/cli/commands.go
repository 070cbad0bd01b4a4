package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	u "github.com/gofrs/uuid/v5"

	"github.com/and161185/pinlock/internal/client"
	"github.com/and161185/pinlock/internal/gate"
	"github.com/and161185/pinlock/internal/model"
	"github.com/and161185/pinlock/internal/session"
	"github.com/and161185/pinlock/internal/token"
)

type command func(ctx context.Context, c *client.Client, args []string, out io.Writer) error

var commands = map[string]command{
	"enroll":    cmdEnroll,
	"configure": cmdConfigure,
	"open":      cmdOpen,
	"status":    cmdStatus,
	"lock":      cmdLock,
	"touch":     cmdTouch,
	"unlock":    cmdUnlock,
	"authorize": cmdAuthorize,
	"close":     cmdClose,
	"events":    cmdEvents,
}

// ------- views -------

type sessionView struct {
	ID           string `json:"id"`
	Locked       bool   `json:"locked"`
	AutoLock     bool   `json:"auto_lock"`
	Timeout      string `json:"timeout"`
	StartedAt    string `json:"started_at"`
	LastActivity string `json:"last_activity"`
}

func viewSession(s session.Snapshot) sessionView {
	return sessionView{
		ID:           s.ID.String(),
		Locked:       s.Locked,
		AutoLock:     s.AutoLock,
		Timeout:      s.Timeout.String(),
		StartedAt:    tsString(s.StartedAt),
		LastActivity: tsString(s.LastActivity),
	}
}

type decisionView struct {
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason,omitempty"`
	LockedUntil string `json:"locked_until,omitempty"`
}

func viewDecision(d model.Decision) decisionView {
	v := decisionView{Allowed: d.Allowed(), Reason: string(d.Reason)}
	if d.LockedUntil != nil {
		v.LockedUntil = tsString(*d.LockedUntil)
	}
	return v
}

type eventView struct {
	At      string            `json:"at"`
	Type    string            `json:"type"`
	Session string            `json:"session,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func viewEvents(evs []model.SecurityEvent) []eventView {
	rows := make([]eventView, 0, len(evs))
	for _, ev := range evs {
		row := eventView{At: tsString(ev.CreatedAt), Type: string(ev.Type), Details: ev.Details}
		if ev.SessionID != u.Nil {
			row.Session = ev.SessionID.String()
		}
		rows = append(rows, row)
	}
	return rows
}

func tsString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ------- flag helpers -------

func prefsFlags(fs *flag.FlagSet) func() model.Preferences {
	def := model.DefaultPreferences()
	timeout := fs.Int("timeout", def.SessionTimeoutMinutes, "session idle timeout, minutes")
	autoLock := fs.Bool("autolock", def.AutoLockEnabled, "lock idle sessions")
	maxFailed := fs.Int("max", def.MaxFailedAttempts, "failed attempts before lockout (0 = server default)")
	return func() model.Preferences {
		return model.Preferences{SessionTimeoutMinutes: *timeout, AutoLockEnabled: *autoLock, MaxFailedAttempts: *maxFailed}
	}
}

// sessionFlag resolves -session, falling back to the saved current session.
func sessionFlag(fs *flag.FlagSet) func() (u.UUID, error) {
	raw := fs.String("session", "", "session id (default: current)")
	return func() (u.UUID, error) {
		s := *raw
		if s == "" {
			var err error
			if s, err = loadSession(); err != nil {
				return u.Nil, err
			}
		}
		return u.FromString(s)
	}
}

func attemptFlags(fs *flag.FlagSet) func() (gate.Attempt, error) {
	pin := fs.String("pin", "", "PIN")
	bio := fs.Bool("biometric", false, "use the platform biometric verdict")
	return func() (gate.Attempt, error) {
		switch {
		case *bio && *pin != "":
			return gate.Attempt{}, errors.New("use either -pin or -biometric")
		case *bio:
			return gate.Attempt{Factor: gate.FactorBiometric, BiometricVerified: true}, nil
		case *pin != "":
			return gate.Attempt{Factor: gate.FactorPIN, Secret: *pin}, nil
		default:
			return gate.Attempt{}, errors.New("need -pin or -biometric")
		}
	}
}

// ------- commands -------

// cmdToken mints a bearer token with the server's shared key and saves it.
func cmdToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	account := fs.String("account", "", "account id (uuid, optional)")
	secret := fs.String("jwt-secret", "", "HS256 key shared with the server")
	ttl := fs.Duration("ttl", 15*time.Minute, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return errors.New("need -jwt-secret")
	}
	id := u.Must(u.NewV4())
	if *account != "" {
		var err error
		if id, err = u.FromString(*account); err != nil {
			return fmt.Errorf("bad -account: %w", err)
		}
	}
	tok, exp, err := token.NewIssuer([]byte(*secret), *ttl).Issue(id)
	if err != nil {
		return err
	}
	if err := saveToken(tok, exp); err != nil {
		return err
	}
	fmt.Fprintln(out, id)
	return nil
}

func cmdEnroll(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("enroll", flag.ContinueOnError)
	pin := fs.String("pin", "", "PIN, 4-12 letters or digits")
	prefs := prefsFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pin == "" {
		return errors.New("need -pin")
	}
	id, err := c.Enroll(ctx, *pin, prefs())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, id)
	return nil
}

func cmdConfigure(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("configure", flag.ContinueOnError)
	prefs := prefsFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := c.Configure(ctx, prefs())
	if err != nil {
		return err
	}
	printJSON(out, p)
	return nil
}

func cmdOpen(ctx context.Context, c *client.Client, _ []string, out io.Writer) error {
	s, err := c.OpenSession(ctx)
	if err != nil {
		return err
	}
	if err := saveSession(s.ID.String()); err != nil {
		return err
	}
	printJSON(out, viewSession(s))
	return nil
}

func sessionCmd(name string, call func(*client.Client, context.Context, u.UUID) (session.Snapshot, error)) command {
	return func(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		sid := sessionFlag(fs)
		if err := fs.Parse(args); err != nil {
			return err
		}
		id, err := sid()
		if err != nil {
			return err
		}
		s, err := call(c, ctx, id)
		if err != nil {
			return err
		}
		printJSON(out, viewSession(s))
		return nil
	}
}

var (
	cmdStatus = sessionCmd("status", (*client.Client).SessionStatus)
	cmdLock   = sessionCmd("lock", (*client.Client).Lock)
	cmdTouch  = sessionCmd("touch", (*client.Client).Touch)
)

func cmdUnlock(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("unlock", flag.ContinueOnError)
	sid := sessionFlag(fs)
	attempt := attemptFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := attempt()
	if err != nil {
		return err
	}
	if a.SessionID, err = sid(); err != nil {
		return err
	}
	return authorize(ctx, c, a, out)
}

func cmdAuthorize(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("authorize", flag.ContinueOnError)
	attempt := attemptFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := attempt()
	if err != nil {
		return err
	}
	return authorize(ctx, c, a, out)
}

func authorize(ctx context.Context, c *client.Client, a gate.Attempt, out io.Writer) error {
	d, err := c.Authorize(ctx, a)
	if err != nil {
		return err
	}
	printJSON(out, viewDecision(d))
	if !d.Allowed() {
		return fmt.Errorf("denied: %s", d.Reason)
	}
	return nil
}

func cmdClose(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("close", flag.ContinueOnError)
	raw := fs.String("session", "", "session id (default: current)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	current := *raw == ""
	s := *raw
	if current {
		var err error
		if s, err = loadSession(); err != nil {
			return err
		}
	}
	id, err := u.FromString(s)
	if err != nil {
		return err
	}
	if err := c.CloseSession(ctx, id); err != nil {
		return err
	}
	if current {
		clearSession()
	}
	fmt.Fprintln(out, "ok")
	return nil
}

func cmdEvents(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "max events, newest first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	evs, err := c.ListEvents(ctx, *limit)
	if err != nil {
		return err
	}
	printJSON(out, viewEvents(evs))
	return nil
}
