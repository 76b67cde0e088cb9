// Package bridge wires the AFK bridge daemon together: the presence
// gate's transitions own the event listener's lifecycle, an auto-return
// ticker expires scheduled away periods, a cron digest summarizes
// activity to the status topic, and the operational API serves tools.
package bridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/switchboard/internal/api"
	"github.com/zulandar/switchboard/internal/chain"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/correlate"
	"github.com/zulandar/switchboard/internal/identity"
	"github.com/zulandar/switchboard/internal/listener"
	"github.com/zulandar/switchboard/internal/presence"
	"github.com/zulandar/switchboard/internal/status"
	"github.com/zulandar/switchboard/internal/topic"
	"github.com/zulandar/switchboard/internal/transport"
	"gorm.io/gorm"
)

// expiryCheckInterval is how often scheduled away periods are checked
// for auto-return.
const expiryCheckInterval = 30 * time.Second

// Daemon is the long-running bridge process.
type Daemon struct {
	db         *gorm.DB
	cfg        *config.Config
	ids        *identity.Context
	client     transport.Client
	gate       *presence.Gate
	listener   *listener.Service
	correlator *correlate.Correlator
	engine     *chain.Engine
	project    string
	out        io.Writer
}

// DaemonOpts holds parameters for creating a Daemon.
type DaemonOpts struct {
	DB      *gorm.DB
	Config  *config.Config
	IDs     *identity.Context
	Client  transport.Client // optional; defaults to the HTTP client for the agent identity
	Project string           // optional; derived from the working directory
	Out     io.Writer        // defaults to os.Stdout
}

// NewDaemon creates a Daemon with all subsystems constructed but not
// running.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("bridge: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("bridge: config is required")
	}
	if opts.IDs == nil {
		return nil, fmt.Errorf("bridge: identity context is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	agentCred, err := opts.IDs.Credential(identity.Agent)
	if err != nil {
		return nil, err
	}

	client := opts.Client
	if client == nil {
		client, err = transport.NewHTTPClient(transport.HTTPClientOpts{
			BaseURL: opts.Config.Site,
			Email:   agentCred.Email,
			APIKey:  agentCred.APIKey,
		})
		if err != nil {
			return nil, err
		}
	}

	project := opts.Project
	if project == "" {
		wd, _ := os.Getwd()
		project = topic.ProjectFromPath(wd)
	}

	gate, err := presence.NewGate(presence.GateOpts{
		DB:          opts.DB,
		DevOverride: opts.Config.Bridge.DevOverride,
	})
	if err != nil {
		return nil, err
	}

	svc, err := listener.NewService(listener.ServiceOpts{
		DB:              opts.DB,
		Client:          client,
		Channel:         opts.Config.Channel,
		SelfEmail:       agentCred.Email,
		PollWaitSec:     opts.Config.Bridge.PollWaitSec,
		RegisterRetries: opts.Config.Bridge.RegisterRetries,
	})
	if err != nil {
		return nil, err
	}

	correlator, err := correlate.New(correlate.CorrelatorOpts{
		DB:           opts.DB,
		Gate:         gate,
		Client:       client,
		Channel:      opts.Config.Channel,
		Project:      project,
		WaitInterval: time.Duration(opts.Config.Bridge.WaitIntervalMs) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}

	engine, err := chain.NewEngine(chain.EngineOpts{
		Gate:       gate,
		Client:     client,
		Correlator: correlator,
		Channel:    opts.Config.Channel,
	})
	if err != nil {
		return nil, err
	}

	return &Daemon{
		db:         opts.DB,
		cfg:        opts.Config,
		ids:        opts.IDs,
		client:     client,
		gate:       gate,
		listener:   svc,
		correlator: correlator,
		engine:     engine,
		project:    project,
		out:        out,
	}, nil
}

// Gate exposes the presence gate, mainly for the CLI's presence
// commands when they run inside the daemon process.
func (d *Daemon) Gate() *presence.Gate { return d.gate }

// Listener exposes the listener for status reporting.
func (d *Daemon) Listener() *listener.Service { return d.listener }

// Run starts the daemon and blocks until the context is cancelled. On
// shutdown the listener is stopped regardless of presence state.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Bridge starting (channel %q, project %q)\n", d.cfg.Channel, d.project)

	// The gate owns the listener lifecycle: one start per departure,
	// one stop per return.
	d.gate.SetNotifier(func(away bool) {
		if away {
			d.listener.Start(ctx)
			fmt.Fprintf(d.out, "Operator away, listener started\n")
		} else {
			d.listener.Stop()
			fmt.Fprintf(d.out, "Operator back, listener stopped\n")
		}
	})

	// Reconcile boot state: a daemon restarted mid-away must resume
	// listening without a fresh enable call.
	row, err := d.gate.Current()
	if err != nil {
		return err
	}
	if row.Away(time.Now()) {
		d.listener.Start(ctx)
		fmt.Fprintf(d.out, "Resuming away state, listener started\n")
	}

	go d.runExpiryLoop(ctx)
	go d.runDigestScheduler(ctx)

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- api.Start(ctx, api.StartOpts{
			DB:         d.db,
			Gate:       d.gate,
			Correlator: d.correlator,
			Engine:     d.engine,
			Port:       d.cfg.Bridge.APIPort,
			Out:        d.out,
		})
	}()

	fmt.Fprintf(d.out, "Bridge online\n")

	select {
	case <-ctx.Done():
	case err := <-apiErr:
		if err != nil {
			d.listener.Stop()
			return fmt.Errorf("bridge: api server: %w", err)
		}
	}

	fmt.Fprintf(d.out, "Bridge shutting down...\n")
	d.listener.Stop()
	fmt.Fprintf(d.out, "Bridge stopped\n")
	return nil
}

// runExpiryLoop auto-returns scheduled away periods.
func (d *Daemon) runExpiryLoop(ctx context.Context) {
	ticker := time.NewTicker(expiryCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := d.gate.ExpireIfDue(time.Now())
			if err != nil {
				log.Printf("bridge: presence expiry: %v", err)
				continue
			}
			if expired {
				fmt.Fprintf(d.out, "Away period expired, operator marked present\n")
			}
		}
	}
}

// runDigestScheduler posts activity digests to the status topic on the
// configured cron schedule. Digests ride the gate like any other agent
// notification; a present operator suppresses them.
func (d *Daemon) runDigestScheduler(ctx context.Context) {
	expr := d.cfg.Bridge.DigestCron
	if expr == "" {
		return
	}

	next := nextCronDuration(expr)
	if next <= 0 {
		log.Printf("bridge: bad digest cron %q; digests disabled", expr)
		return
	}
	timer := time.NewTimer(next)
	defer timer.Stop()

	lastDigest := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.fireDigest(ctx, lastDigest)
			lastDigest = time.Now()
			if next := nextCronDuration(expr); next > 0 {
				timer.Reset(next)
			}
		}
	}
}

// digestCronParser accepts standard 5-field expressions (minute, hour,
// dom, month, dow).
var digestCronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration returns the time until expr next fires, or 0 when
// the expression does not parse or never fires again.
func nextCronDuration(expr string) time.Duration {
	sched, err := digestCronParser.Parse(expr)
	if err != nil {
		return 0
	}
	d := time.Until(sched.Next(time.Now()))
	if d < 0 {
		return 0
	}
	return d
}

// fireDigest builds and delivers one digest covering the period since
// the previous one.
func (d *Daemon) fireDigest(ctx context.Context, since time.Time) {
	report, err := status.BuildDigest(d.db, since)
	if err != nil {
		log.Printf("bridge: build digest: %v", err)
		return
	}
	if report == nil {
		// No activity, suppress.
		return
	}

	allowed, err := d.gate.DeliveryAllowed()
	if err != nil {
		log.Printf("bridge: digest gate check: %v", err)
		return
	}
	if !allowed {
		return
	}

	t := topic.StatusTopic("bridge")
	if _, err := d.client.SendMessage(ctx, d.cfg.Channel, t, status.FormatDigest(report)); err != nil {
		log.Printf("bridge: send digest: %v", err)
	}
}
