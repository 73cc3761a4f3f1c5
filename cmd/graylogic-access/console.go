package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/auth"
	"github.com/nerrad567/gray-logic-access/internal/household"
	"github.com/nerrad567/gray-logic-access/internal/techaccess"
)

const consoleHelp = `commands:
  whoami                                  show the current session
  users                                   list every account (admin)
  guests [homeowner]                      list guests
  register <username> <role> [homeowner]  create an account
  enable <username> | disable <username>  toggle an account
  delete <username>                       delete a guest
  request <technician> <minutes> <text>   grant technician access
  activate <job-id>                       start an assigned job
  jobs                                    list your jobs
  history [limit]                         security events (admin)
  logout | quit`

// console is a line-oriented operator front end over household.Service.
// Secrets are read without echo when stdin is a terminal.
type console struct {
	svc     *household.Service
	in      *bufio.Scanner
	out     io.Writer
	fd      int // -1 when input is not a terminal
	session *auth.SessionHandle
}

func newConsole(svc *household.Service, in io.Reader, out io.Writer) *console {
	c := &console{svc: svc, in: bufio.NewScanner(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.fd = int(f.Fd())
	}
	return c
}

// run serves commands until input ends, quit is entered or ctx is cancelled.
// An open session is closed on return.
func (c *console) run(ctx context.Context) error {
	defer c.closeSession(ctx)

	for ctx.Err() == nil {
		if c.session == nil {
			more, err := c.login(ctx)
			if err != nil || !more {
				return err
			}
			continue
		}

		line, ok := c.readLine(c.session.Username + "> ")
		if !ok {
			return c.in.Err()
		}
		if c.dispatch(ctx, line) {
			return nil
		}
	}
	return nil
}

func (c *console) login(ctx context.Context) (bool, error) {
	username, ok := c.readLine("username: ")
	if !ok {
		return false, c.in.Err()
	}
	if username == "" {
		return true, nil
	}
	if username == "quit" {
		return false, nil
	}

	secret, err := c.readSecret("secret: ")
	if err != nil {
		return false, err
	}
	h, err := c.svc.Login(ctx, username, secret)
	clear(secret)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return true, nil
	}

	c.session = h
	fmt.Fprintf(c.out, "logged in as %s (%s)\n", h.Username, h.Role)
	return true, nil
}

// dispatch runs one command line and reports whether the console should exit.
func (c *console) dispatch(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var err error
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "help":
		fmt.Fprintln(c.out, consoleHelp)
	case "whoami":
		fmt.Fprintf(c.out, "%s (%s), session expires %s\n",
			c.session.Username, c.session.Role, c.session.ExpiresAt.Format(time.RFC3339))
	case "users":
		err = c.users(ctx)
	case "guests":
		err = c.guests(ctx, args)
	case "register":
		err = c.register(ctx, args)
	case "enable", "disable":
		if len(args) != 1 {
			err = fmt.Errorf("usage: %s <username>", cmd)
			break
		}
		if err = c.svc.SetActive(ctx, c.session, args[0], cmd == "enable"); err == nil {
			fmt.Fprintf(c.out, "%s %sd\n", args[0], cmd)
		}
	case "delete":
		if len(args) != 1 {
			err = errors.New("usage: delete <username>")
			break
		}
		if err = c.svc.DeleteGuest(ctx, c.session, args[0]); err == nil {
			fmt.Fprintf(c.out, "%s deleted\n", args[0])
		}
	case "request":
		err = c.request(ctx, args)
	case "activate":
		err = c.activate(ctx, args)
	case "jobs":
		err = c.jobs(ctx)
	case "history":
		err = c.history(ctx, args)
	case "logout":
		err = c.svc.Logout(ctx, c.session)
		c.session = nil
		if err == nil {
			fmt.Fprintln(c.out, "logged out")
		}
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(c.out, "unknown command %q, try help\n", cmd)
	}

	if err != nil {
		if errors.Is(err, auth.ErrSessionInvalid) {
			c.session = nil
		}
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
	return false
}

func (c *console) users(ctx context.Context) error {
	principals, err := c.svc.ListPrincipals(ctx, c.session)
	if err != nil {
		return err
	}
	c.printPrincipals(principals)
	return nil
}

func (c *console) guests(ctx context.Context, args []string) error {
	homeowner := ""
	if len(args) > 0 {
		homeowner = args[0]
	}
	guests, err := c.svc.ListGuests(ctx, c.session, homeowner)
	if err != nil {
		return err
	}
	c.printPrincipals(guests)
	return nil
}

func (c *console) register(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("usage: register <username> <role> [homeowner]")
	}
	role, err := auth.ParseRole(args[1])
	if err != nil {
		return err
	}
	req := household.RegisterRequest{Username: args[0], Role: role}
	if len(args) == 3 {
		req.Homeowner = args[2]
	}

	if req.Secret, err = c.readSecret("new secret: "); err != nil {
		return err
	}
	p, err := c.svc.Register(ctx, c.session, req)
	clear(req.Secret)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s registered as %s\n", p.Username, p.Role)
	return nil
}

func (c *console) request(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: request <technician> <minutes> <description>")
	}
	minutes, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("minutes must be one of %v", techaccess.AllowedMinutes)
	}
	job, err := c.svc.RequestTechnician(ctx, c.session, args[0], minutes, strings.Join(args[2:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "job %s granted to %s until %s\n",
		job.ID, job.Technician, job.GrantExpires.Format(time.RFC3339))
	return nil
}

func (c *console) activate(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: activate <job-id>")
	}
	secret, err := c.readSecret("confirm secret: ")
	if err != nil {
		return err
	}
	job, err := c.svc.ActivateTechnicianAccess(ctx, c.session, args[0], secret)
	clear(secret)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "job %s active for %s until %s\n",
		job.ID, job.Homeowner, job.GrantExpires.Format(time.RFC3339))
	return nil
}

func (c *console) jobs(ctx context.Context) error {
	var (
		jobs []techaccess.Job
		err  error
	)
	if c.session.Role == auth.RoleTechnician {
		jobs, err = c.svc.JobsForTechnician(ctx, c.session)
	} else {
		jobs, err = c.svc.JobsForHomeowner(ctx, c.session)
	}
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tHOMEOWNER\tTECHNICIAN\tSTATUS\tEXPIRES\tDESCRIPTION")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Homeowner, j.Technician, j.Status, j.GrantExpires.Format(time.RFC3339), j.Description)
	}
	return tw.Flush()
}

func (c *console) history(ctx context.Context, args []string) error {
	filter := audit.Filter{}
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.New("usage: history [limit]")
		}
		filter.Limit = n
	}
	result, err := c.svc.SecurityHistory(ctx, c.session, filter)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tACTOR\tTARGET\tDESCRIPTION")
	for _, e := range result.Events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Type, e.Actor, e.Target, e.Description)
	}
	fmt.Fprintf(tw, "(%d of %d)\n", len(result.Events), result.Total)
	return tw.Flush()
}

func (c *console) printPrincipals(principals []auth.Principal) {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tROLE\tACTIVE\tHOMEOWNER")
	for _, p := range principals {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.Username, p.Role, p.Active, p.OwnerID)
	}
	_ = tw.Flush() //nolint:errcheck // console output
}

func (c *console) readLine(prompt string) (string, bool) {
	fmt.Fprint(c.out, prompt)
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

// readSecret reads a secret without echo on a terminal, or as a plain line
// otherwise. The caller wipes the returned slice.
func (c *console) readSecret(prompt string) ([]byte, error) {
	fmt.Fprint(c.out, prompt)
	if c.fd >= 0 {
		secret, err := term.ReadPassword(c.fd)
		fmt.Fprintln(c.out)
		if err != nil {
			return nil, fmt.Errorf("reading secret: %w", err)
		}
		return secret, nil
	}

	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return nil, fmt.Errorf("reading secret: %w", err)
		}
		return nil, io.ErrUnexpectedEOF
	}
	return append([]byte(nil), c.in.Bytes()...), nil
}

func (c *console) closeSession(ctx context.Context) {
	if c.session == nil {
		return
	}
	_ = c.svc.Logout(context.WithoutCancel(ctx), c.session) //nolint:errcheck // best effort on exit
	c.session = nil
}
